package quota

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhalm/keyquota/metrics"
	"github.com/nhalm/keyquota/store"
)

func setupMeter(t *testing.T, st store.Store, limit int64, period string, opts ...Option) (*Client, *fakeClock, string) {
	t.Helper()
	clock := newFakeClock()
	qc := New(st, append([]Option{WithClock(clock.Now)}, opts...)...)
	ctx := context.Background()

	_, err := qc.Plans.Create(ctx, PlanParams{ID: "plan", Limit: limit, Period: period})
	require.NoError(t, err)
	key, err := qc.Keys.Create(ctx, KeyParams{Plan: "plan"})
	require.NoError(t, err)
	return qc, clock, key.Value
}

func TestMeter_RemainingSequence(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		qc, clock, key := setupMeter(t, st, 3, "100ms")
		ctx := context.Background()

		var remaining []int64
		var exceeded []bool
		for range 5 {
			res, err := qc.Usage.Increment(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, int64(3), res.Limit)
			remaining = append(remaining, res.Remaining)
			exceeded = append(exceeded, res.Exceeded)
		}
		assert.Equal(t, []int64{2, 1, 0, 0, 0}, remaining)
		assert.Equal(t, []bool{false, false, false, true, true}, exceeded)

		clock.Advance(101 * time.Millisecond)
		res, err := qc.Usage.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.Remaining)
	})
}

func TestMeter_LongPeriod(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		qc, _, key := setupMeter(t, st, 2, "200y")
		ctx := context.Background()

		var remaining []int64
		for range 3 {
			res, err := qc.Usage.Increment(ctx, key)
			require.NoError(t, err)
			remaining = append(remaining, res.Remaining)
		}
		assert.Equal(t, []int64{1, 0, 0}, remaining)
	})
}

func TestWindowTTL(t *testing.T) {
	assert.Equal(t, (2 * time.Hour).Milliseconds(), windowTTL(time.Hour.Milliseconds()))
	assert.Equal(t, maxTTLMillis, windowTTL((200 * year).Milliseconds()))
	assert.Equal(t, maxTTLMillis, windowTTL(math.MaxInt64/1000))

	// the saturated TTL converts back to a duration without overflowing
	assert.Positive(t, time.Duration(maxTTLMillis)*time.Millisecond)
}

func TestMeter_WindowReset(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		qc, clock, key := setupMeter(t, st, 10, "1m")
		ctx := context.Background()

		first, err := qc.Usage.Increment(ctx, key, WithQuantity(4))
		require.NoError(t, err)
		assert.Equal(t, int64(6), first.Remaining)
		assert.True(t, first.Reset.Equal(clock.Now().Add(time.Minute)))

		clock.Advance(time.Minute)
		sameWindow, err := qc.Usage.Increment(ctx, key, WithQuantity(1))
		require.NoError(t, err)
		assert.Equal(t, int64(5), sameWindow.Remaining, "window is still valid at exactly reset")
		assert.True(t, sameWindow.Reset.Equal(first.Reset))

		clock.Advance(time.Millisecond)
		next, err := qc.Usage.Increment(ctx, key, WithQuantity(2))
		require.NoError(t, err)
		assert.Equal(t, int64(8), next.Remaining, "expired window is replaced, not merged")
		assert.True(t, next.Reset.Equal(clock.Now().Add(time.Minute)))
	})
}

func TestMeter_Clamp(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		qc, _, key := setupMeter(t, st, 5, "1h")
		ctx := context.Background()

		res, err := qc.Usage.Increment(ctx, key, WithQuantity(8))
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Remaining)
		assert.True(t, res.Exceeded)

		res, err = qc.Usage.Increment(ctx, key, WithQuantity(3))
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Remaining)
		assert.True(t, res.Exceeded)
	})
}

func TestMeter_PartialCharge(t *testing.T) {
	qc, _, key := setupMeter(t, newMemoryStore(t), 5, "1h")
	ctx := context.Background()

	_, err := qc.Usage.Increment(ctx, key, WithQuantity(3))
	require.NoError(t, err)

	res, err := qc.Usage.Increment(ctx, key, WithQuantity(3))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Remaining)
	assert.True(t, res.Exceeded, "only 2 of 3 units fit")
}

func TestMeter_GetIsIdempotent(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		qc, clock, key := setupMeter(t, st, 3, "1m")
		ctx := context.Background()

		fresh, err := qc.Usage.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), fresh.Remaining)
		assert.False(t, fresh.Exceeded)

		first, err := qc.Usage.Increment(ctx, key)
		require.NoError(t, err)
		require.NoError(t, first.Pending.Wait(ctx))

		for range 3 {
			clock.Advance(time.Second)
			res, err := qc.Usage.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, first.Remaining, res.Remaining)
			assert.True(t, first.Reset.Equal(res.Reset))
		}

		stats, err := qc.Stats.Query(ctx, key)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, int64(1), stats[0].Count, "reads never record stats")
	})
}

func TestMeter_ConcurrentIncrements(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		const workers = 50
		qc, _, key := setupMeter(t, st, workers, "1h")
		ctx := context.Background()

		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := qc.Usage.Increment(ctx, key)
				if err != nil {
					t.Errorf("Increment() error: %v", err)
					return
				}
				if err := res.Pending.Wait(ctx); err != nil {
					t.Errorf("Pending.Wait() error: %v", err)
				}
			}()
		}
		wg.Wait()

		res, err := qc.Usage.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Remaining, "no increment may be lost")

		stats, err := qc.Stats.Query(ctx, key)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, int64(workers), stats[0].Count)
	})
}

func TestMeter_Errors(t *testing.T) {
	eachStore(t, func(t *testing.T, st store.Store) {
		qc := New(st)
		ctx := context.Background()

		_, err := qc.Usage.Increment(ctx, "missing")
		assert.ErrorIs(t, err, ErrKeyNotFound)

		res, err := qc.Usage.Increment(ctx, "missing", AllowMissing())
		assert.NoError(t, err)
		assert.Nil(t, res)

		_, err = qc.Keys.Create(ctx, KeyParams{Value: "unbound"})
		require.NoError(t, err)
		_, err = qc.Usage.Get(ctx, "unbound")
		assert.ErrorIs(t, err, ErrPlanNotFound)

		_, err = qc.Plans.Create(ctx, PlanParams{ID: "free", Limit: 1, Period: "1d"})
		require.NoError(t, err)
		_, err = qc.Keys.Create(ctx, KeyParams{Value: "orphan", Plan: "free"})
		require.NoError(t, err)
		_, err = qc.Usage.Increment(ctx, "orphan", WithQuantity(-1))
		assert.ErrorIs(t, err, ErrInvalidQuantity)

		// lenient mode: the plan can disappear from under a bound key
		_, err = st.Del(ctx, planNamespace+"free")
		require.NoError(t, err)
		_, err = qc.Usage.Increment(ctx, "orphan")
		assert.ErrorIs(t, err, ErrPlanNotFound)

		keys, err := st.Keys(ctx, usageNamespace+"*")
		require.NoError(t, err)
		assert.Empty(t, keys, "failed lookups never write a window")
	})
}

func TestMeter_StatsFailureDoesNotFailDecision(t *testing.T) {
	mem := newMemoryStore(t)
	reg := prometheus.NewRegistry()
	qc, _, key := setupMeter(t, mem, 3, "1m", WithMetrics(metrics.New(reg)))
	ctx := context.Background()

	// occupy today's stats bucket with a non-integer so INCRBY fails
	bucket := statsNamespace + key + ":" + qc.Stats.date(qc.Stats.now())
	_, err := mem.Set(ctx, bucket, []byte("not a number"))
	require.NoError(t, err)

	res, err := qc.Usage.Increment(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Remaining)

	assert.ErrorIs(t, res.Pending.Wait(ctx), store.ErrWrongType)
	assert.ErrorIs(t, res.Pending.Err(), store.ErrWrongType)
}

func TestMeter_OutcomeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	qc, _, key := setupMeter(t, newMemoryStore(t), 1, "1m", WithMetrics(metrics.New(reg)))
	ctx := context.Background()

	_, err := qc.Usage.Get(ctx, key)
	require.NoError(t, err)
	for range 2 {
		res, err := qc.Usage.Increment(ctx, key)
		require.NoError(t, err)
		require.NoError(t, res.Pending.Wait(ctx))
	}

	expected := `
# HELP keyquota_usage_decisions_total Usage decisions by outcome
# TYPE keyquota_usage_decisions_total counter
keyquota_usage_decisions_total{outcome="allowed"} 1
keyquota_usage_decisions_total{outcome="exceeded"} 1
keyquota_usage_decisions_total{outcome="read"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "keyquota_usage_decisions_total"))
}

func TestMeter_At(t *testing.T) {
	qc, clock, key := setupMeter(t, newMemoryStore(t), 3, "1d")
	ctx := context.Background()

	yesterday := clock.Now().Add(-24 * time.Hour)
	res, err := qc.Usage.Increment(ctx, key, At(yesterday))
	require.NoError(t, err)
	require.NoError(t, res.Pending.Wait(ctx))

	stats, err := qc.Stats.Query(ctx, key)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, yesterday.Format(DateLayout), stats[0].Date)
}

func TestPending(t *testing.T) {
	var nilPending *Pending
	assert.NoError(t, nilPending.Wait(context.Background()))

	block := make(chan struct{})
	p := startPending(func() error {
		<-block
		return nil
	})
	assert.NoError(t, p.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	close(block)
	<-p.Done()
	assert.NoError(t, p.Wait(context.Background()))
}
