package quota

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nhalm/keyquota/store"
)

// DateLayout is the format of a stats bucket date.
const DateLayout = "2006-01-02"

// statsScript adds ARGV[1] to a day bucket and arms a retention of ARGV[2]
// seconds only when the bucket has no TTL yet.
var statsScript = store.NewScript("stats.increment", `
local total = redis.call('INCRBY', KEYS[1], ARGV[1])
if redis.call('TTL', KEYS[1]) == -1 then
    redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return {total}
`, func(tx store.Tx, keys []string, args []int64) ([]int64, error) {
	total, err := tx.IncrBy(keys[0], args[0])
	if err != nil {
		return nil, err
	}
	if tx.TTL(keys[0]) == store.TTLNone {
		tx.Expire(keys[0], time.Duration(args[1])*time.Second)
	}
	return []int64{total}, nil
})

// StatsEntry is the usage recorded for a key on one day.
type StatsEntry struct {
	Date  string `json:"date" yaml:"date"`
	Count int64  `json:"count" yaml:"count"`
}

// Stats records and queries per-day usage counters.
type Stats struct {
	store     store.Store
	now       func() time.Time
	retention time.Duration
	location  *time.Location
}

// Increment adds quantity to the bucket of value for the day of at and
// returns the day total.
func (s *Stats) Increment(ctx context.Context, value string, quantity int64, at time.Time) (int64, error) {
	if at.IsZero() {
		at = s.now()
	}
	bucket := statsNamespace + value + ":" + s.date(at)
	retention := max(1, int64(s.retention/time.Second))
	res, err := s.store.Eval(ctx, statsScript, []string{bucket}, quantity, retention)
	if err != nil {
		return 0, storeErr("increment stats", err)
	}
	if len(res) != 1 {
		return 0, fmt.Errorf("increment stats: unexpected result length %d", len(res))
	}
	return res[0], nil
}

// Location is the timezone stats days are computed in.
func (s *Stats) Location() *time.Location {
	return s.location
}

func (s *Stats) date(t time.Time) string {
	return t.In(s.location).Format(DateLayout)
}

// QueryOption narrows a stats query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	since time.Time
	until time.Time
}

// Since keeps entries on or after the day of t in the stats location.
func Since(t time.Time) QueryOption {
	return func(o *queryOptions) {
		o.since = t
	}
}

// Until keeps entries on or before the day of t in the stats location.
func Until(t time.Time) QueryOption {
	return func(o *queryOptions) {
		o.until = t
	}
}

// Query returns the recorded days of value in ascending date order.
func (s *Stats) Query(ctx context.Context, value string, opts ...QueryOption) ([]StatsEntry, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	var since, until string
	if !o.since.IsZero() {
		since = s.date(o.since)
	}
	if !o.until.IsZero() {
		until = s.date(o.until)
	}

	prefix := statsNamespace + value + ":"
	names, err := s.store.Keys(ctx, statsNamespace+store.EscapePattern(value)+":*")
	if err != nil {
		return nil, storeErr("query stats", err)
	}

	var (
		buckets []string
		dates   []string
	)
	for _, name := range names {
		date := strings.TrimPrefix(name, prefix)
		if _, err := time.Parse(DateLayout, date); err != nil {
			// belongs to another key whose value extends this one
			continue
		}
		if (since != "" && date < since) || (until != "" && date > until) {
			continue
		}
		buckets = append(buckets, name)
		dates = append(dates, date)
	}

	entries := make([]StatsEntry, 0, len(buckets))
	if len(buckets) == 0 {
		return entries, nil
	}

	values, err := s.store.MGet(ctx, buckets...)
	if err != nil {
		return nil, storeErr("query stats", err)
	}
	for i, v := range values {
		if v == nil {
			continue
		}
		count, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("query stats: bucket %s: %w", buckets[i], err)
		}
		entries = append(entries, StatsEntry{Date: dates[i], Count: count})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })
	return entries, nil
}
