// Package quota manages API keys, the plans they are bound to, and metering
// of key usage against a fixed window.
//
//	st := store.NewMemory()
//	qc := quota.New(st)
//
//	qc.Plans.Create(ctx, quota.PlanParams{ID: "free", Limit: 3, Period: "1d"})
//	key, _ := qc.Keys.Create(ctx, quota.KeyParams{Plan: "free"})
//
//	usage, err := qc.Usage.Increment(ctx, key.Value)
//	// usage.Remaining == 2
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhalm/keyquota/codec"
	"github.com/nhalm/keyquota/metrics"
	"github.com/nhalm/keyquota/store"
)

// DefaultStatsRetention is how long a daily stats bucket is kept.
const DefaultStatsRetention = 90 * 24 * time.Hour

// Client groups the registries, the usage meter and the stats recorder that
// share one store.
type Client struct {
	Plans *Plans
	Keys  *Keys
	Usage *Meter
	Stats *Stats

	store store.Store
}

type options struct {
	codec          codec.Codec
	cacheSize      int
	cacheTTL       time.Duration
	now            func() time.Time
	locker         store.Locker
	statsRetention time.Duration
	statsLocation  *time.Location
	statsTimeout   time.Duration
	logger         zerolog.Logger
	metrics        *metrics.Metrics
}

// Option configures a Client.
type Option func(*options)

// WithCodec sets the serialization of plans and keys (default codec.JSON).
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithCache enables a bounded LRU cache of size entries per registry.
// Entries expire after ttl and are dropped on every local write. Writes made
// by other processes are visible after at most ttl.
func WithCache(size int, ttl time.Duration) Option {
	return func(o *options) {
		o.cacheSize = size
		o.cacheTTL = ttl
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLocker serializes plan deletion against key writes that reference the
// same plan. Without a locker a plan can be deleted while a key is being
// bound to it.
func WithLocker(l store.Locker) Option {
	return func(o *options) {
		o.locker = l
	}
}

// WithStatsRetention sets the TTL armed on each daily stats bucket.
func WithStatsRetention(d time.Duration) Option {
	return func(o *options) {
		o.statsRetention = d
	}
}

// WithStatsLocation sets the timezone used to compute stats days (default UTC).
func WithStatsLocation(loc *time.Location) Option {
	return func(o *options) {
		o.statsLocation = loc
	}
}

// WithStatsTimeout bounds the background stats write started by Increment.
func WithStatsTimeout(d time.Duration) Option {
	return func(o *options) {
		o.statsTimeout = d
	}
}

// WithLogger sets the logger used for background failures.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records cache, usage and stats metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New wires a Client over st.
func New(st store.Store, opts ...Option) *Client {
	o := options{
		codec:          codec.JSON,
		now:            time.Now,
		statsRetention: DefaultStatsRetention,
		statsLocation:  time.UTC,
		statsTimeout:   5 * time.Second,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locker == nil {
		o.locker = noLocker{}
	}

	plans := &Plans{
		store: st,
		codec: o.codec,
		now:   o.now,
		lock:  o.locker,
		cache: newCache("plans", o.cacheSize, o.cacheTTL, o.now, (*Plan).clone, o.metrics),
	}
	keys := &Keys{
		store: st,
		codec: o.codec,
		now:   o.now,
		lock:  o.locker,
		plans: plans,
		cache: newCache("keys", o.cacheSize, o.cacheTTL, o.now, (*Key).clone, o.metrics),
	}
	plans.keys = keys

	stats := &Stats{
		store:     st,
		now:       o.now,
		retention: o.statsRetention,
		location:  o.statsLocation,
	}

	meter := &Meter{
		store:        st,
		keys:         keys,
		plans:        plans,
		stats:        stats,
		now:          o.now,
		statsTimeout: o.statsTimeout,
		log:          o.logger,
		metrics:      o.metrics,
	}

	return &Client{
		Plans: plans,
		Keys:  keys,
		Usage: meter,
		Stats: stats,
		store: st,
	}
}

// Ping checks that the store answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.store.Get(ctx, "ping")
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return storeErr("ping", err)
}

type noLocker struct{}

func (noLocker) WithLock(_ context.Context, _ string, fn func() error) error {
	return fn()
}

func planLock(id string) string {
	return planNamespace + id
}
