// Package app assembles the store, metrics and quota client from config.
package app

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/nhalm/keyquota/codec"
	"github.com/nhalm/keyquota/internal/config"
	"github.com/nhalm/keyquota/metrics"
	"github.com/nhalm/keyquota/quota"
	"github.com/nhalm/keyquota/store"
)

// App is a wired quota client and the resources it owns.
type App struct {
	Client   *quota.Client
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	store store.Store
}

// Open connects the configured store and builds the client on top of it.
func Open(cfg *config.Config, log zerolog.Logger) (*App, error) {
	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.StatsTimezone)
	if err != nil {
		return nil, fmt.Errorf("stats timezone: %w", err)
	}

	var (
		raw    store.Store
		locker store.Locker
	)
	switch cfg.Store {
	case "memory":
		raw = store.NewMemory()
		locker = store.NewLocalLocker()
	case "redis":
		rs, err := store.NewRedis(store.RedisConfig{
			URL:         cfg.RedisURL,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Prefix:      cfg.Prefix,
			PoolSize:    cfg.RedisPoolSize,
			ReadTimeout: cfg.RedisTimeout,
		})
		if err != nil {
			return nil, err
		}
		raw = rs
		locker = rs.Locker(cfg.LockTTL)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := []quota.Option{
		quota.WithCodec(c),
		quota.WithStatsRetention(cfg.StatsRetention),
		quota.WithStatsLocation(loc),
		quota.WithStatsTimeout(cfg.StatsTimeout),
		quota.WithLogger(log),
		quota.WithMetrics(m),
	}
	if cfg.CacheSize > 0 {
		opts = append(opts, quota.WithCache(cfg.CacheSize, cfg.CacheTTL))
	}
	if cfg.StrictReferences {
		opts = append(opts, quota.WithLocker(locker))
	}

	log.Debug().
		Str("store", cfg.Store).
		Str("codec", c.Name()).
		Int("cache_size", cfg.CacheSize).
		Bool("strict_references", cfg.StrictReferences).
		Msg("Quota client configured")

	return &App{
		Client:   quota.New(metrics.InstrumentStore(raw, m), opts...),
		Metrics:  m,
		Registry: reg,
		store:    raw,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}
