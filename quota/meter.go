package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhalm/keyquota/metrics"
	"github.com/nhalm/keyquota/store"
)

// windowScript applies a charge to a fixed usage window stored as a hash
// {count, reset}. ARGV: quantity, now (ms), period (ms), limit, ttl (ms).
// Returns {count, reset, charged}.
var windowScript = store.NewScript("usage.window", `
local quantity = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local period = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])

local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset'))
local previous = 0

if count == nil or reset == nil or now > reset then
    count = math.min(quantity, limit)
    reset = now + period
    if quantity > 0 then
        redis.call('HSET', KEYS[1], 'count', string.format('%d', count), 'reset', string.format('%d', reset))
        redis.call('PEXPIRE', KEYS[1], ARGV[5])
    end
else
    previous = count
    if quantity > 0 and count < limit then
        count = math.min(count + quantity, limit)
        redis.call('HSET', KEYS[1], 'count', string.format('%d', count))
    end
end

return {count, reset, count - previous}
`, windowLocal)

func windowLocal(tx store.Tx, keys []string, args []int64) ([]int64, error) {
	if len(keys) != 1 || len(args) != 5 {
		return nil, fmt.Errorf("usage.window: want 1 key and 5 args, got %d and %d", len(keys), len(args))
	}
	quantity, now, period, limit, ttl := args[0], args[1], args[2], args[3], args[4]
	key := keys[0]

	count, okCount := hashInt(tx, key, "count")
	reset, okReset := hashInt(tx, key, "reset")
	var previous int64

	if !okCount || !okReset || now > reset {
		count = min(quantity, limit)
		reset = now + period
		if quantity > 0 {
			tx.HSet(key, map[string]string{
				"count": strconv.FormatInt(count, 10),
				"reset": strconv.FormatInt(reset, 10),
			})
			tx.Expire(key, time.Duration(ttl)*time.Millisecond)
		}
	} else {
		previous = count
		if quantity > 0 && count < limit {
			count = min(count+quantity, limit)
			tx.HSet(key, map[string]string{"count": strconv.FormatInt(count, 10)})
		}
	}

	return []int64{count, reset, count - previous}, nil
}

// maxTTLMillis is the largest millisecond TTL that still fits a time.Duration.
const maxTTLMillis = math.MaxInt64 / int64(time.Millisecond)

// windowTTL is two periods in milliseconds, saturated at maxTTLMillis.
func windowTTL(periodMs int64) int64 {
	if periodMs > maxTTLMillis/2 {
		return maxTTLMillis
	}
	return periodMs * 2
}

func hashInt(tx store.Tx, key, field string) (int64, bool) {
	s, ok := tx.HGet(key, field)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// UsageResult is the quota decision for one key.
type UsageResult struct {
	Limit     int64     `json:"limit" yaml:"limit"`
	Remaining int64     `json:"remaining" yaml:"remaining"`
	Reset     time.Time `json:"reset" yaml:"reset"`

	// Exceeded reports that the requested quantity could not be fully charged.
	Exceeded bool `json:"exceeded" yaml:"exceeded"`

	// Pending completes when the stats write started by this call finishes.
	Pending *Pending `json:"-" yaml:"-"`
}

// Meter charges key usage against the key's plan.
type Meter struct {
	store        store.Store
	keys         *Keys
	plans        *Plans
	stats        *Stats
	now          func() time.Time
	statsTimeout time.Duration
	log          zerolog.Logger
	metrics      *metrics.Metrics
}

// IncrementOption configures Meter.Increment.
type IncrementOption func(*incrementOptions)

type incrementOptions struct {
	quantity     int64
	at           time.Time
	allowMissing bool
}

// WithQuantity charges n units instead of one. Zero reads without writing.
func WithQuantity(n int64) IncrementOption {
	return func(o *incrementOptions) {
		o.quantity = n
	}
}

// At evaluates the window at t instead of now.
func At(t time.Time) IncrementOption {
	return func(o *incrementOptions) {
		o.at = t
	}
}

// AllowMissing makes Increment return a nil result instead of KeyNotFound.
func AllowMissing() IncrementOption {
	return func(o *incrementOptions) {
		o.allowMissing = true
	}
}

// Get returns the current usage of value without charging it.
func (m *Meter) Get(ctx context.Context, value string) (*UsageResult, error) {
	return m.Increment(ctx, value, WithQuantity(0))
}

// Increment charges usage to value and returns the resulting quota state.
//
// The window update is a single atomic store script, so concurrent calls for
// the same key never lose a charge. The stats write runs in the background
// and is reported through the result's Pending handle.
func (m *Meter) Increment(ctx context.Context, value string, opts ...IncrementOption) (*UsageResult, error) {
	o := incrementOptions{quantity: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.quantity < 0 {
		return nil, errInvalidQuantity(o.quantity)
	}
	if o.at.IsZero() {
		o.at = m.now()
	}

	key, err := m.keys.Retrieve(ctx, value)
	if err != nil {
		if o.allowMissing && errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		m.metrics.UsageError(errorKind(err))
		return nil, err
	}
	if key.Plan == "" {
		err := errKeyUnbound(value)
		m.metrics.UsageError(errorKind(err))
		return nil, err
	}
	plan, err := m.plans.Retrieve(ctx, key.Plan)
	if err != nil {
		m.metrics.UsageError(errorKind(err))
		return nil, err
	}
	period, err := plan.Duration()
	if err != nil {
		return nil, err
	}

	res, err := m.store.Eval(ctx, windowScript, []string{usageNamespace + value},
		o.quantity, o.at.UnixMilli(), period.Milliseconds(), plan.Limit, windowTTL(period.Milliseconds()))
	if err != nil {
		err = storeErr("increment usage", err)
		m.metrics.UsageError(errorKind(err))
		return nil, err
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("increment usage: unexpected result length %d", len(res))
	}
	count, reset, charged := res[0], res[1], res[2]

	result := &UsageResult{
		Limit:     plan.Limit,
		Remaining: max(0, plan.Limit-count),
		Reset:     time.UnixMilli(reset).UTC(),
		Exceeded:  charged < o.quantity,
	}

	switch {
	case o.quantity == 0:
		m.metrics.UsageOutcome("read")
		result.Pending = completedPending()
		return result, nil
	case result.Exceeded:
		m.metrics.UsageOutcome("exceeded")
	default:
		m.metrics.UsageOutcome("allowed")
	}

	result.Pending = startPending(func() error {
		return m.recordStats(context.WithoutCancel(ctx), value, o.quantity, o.at)
	})
	return result, nil
}

func (m *Meter) recordStats(ctx context.Context, value string, quantity int64, at time.Time) error {
	if m.statsTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.statsTimeout)
		defer cancel()
	}
	if _, err := m.stats.Increment(ctx, value, quantity, at); err != nil {
		m.metrics.StatsFailure()
		m.log.Warn().Err(err).Str("key", value).Int64("quantity", quantity).Msg("stats increment failed")
		return err
	}
	return nil
}

func errKeyUnbound(value string) error {
	return &Error{Kind: KindPlanNotFound, Code: "key_has_no_plan", Message: fmt.Sprintf("The key `%s` is not associated with any plan.", value)}
}

func errorKind(err error) string {
	var qe *Error
	if errors.As(err, &qe) {
		return string(qe.Kind)
	}
	return "internal"
}
