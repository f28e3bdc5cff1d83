// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds every setting of the keyquota service.
type Config struct {
	Store string `env:"STORE" envDefault:"redis"`

	RedisURL      string        `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int           `env:"REDIS_POOL_SIZE"`
	RedisTimeout  time.Duration `env:"REDIS_TIMEOUT" envDefault:"3s"`
	Prefix        string        `env:"PREFIX" envDefault:"keyquota:"`

	Codec            string        `env:"CODEC" envDefault:"json"`
	CacheSize        int           `env:"CACHE_SIZE" envDefault:"0"`
	CacheTTL         time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	StatsRetention   time.Duration `env:"STATS_RETENTION" envDefault:"2160h"`
	StatsTimezone    string        `env:"STATS_TIMEZONE" envDefault:"UTC"`
	StatsTimeout     time.Duration `env:"STATS_TIMEOUT" envDefault:"5s"`
	StrictReferences bool          `env:"STRICT_REFERENCES" envDefault:"false"`
	LockTTL          time.Duration `env:"LOCK_TTL" envDefault:"10s"`

	HTTPPort        int           `env:"PORT" envDefault:"8080"`
	MetricsPort     int           `env:"METRICS_PORT" envDefault:"0"`
	AdminToken      string        `env:"ADMIN_TOKEN"`
	APIKeyHeader    string        `env:"API_KEY_HEADER" envDefault:"X-API-Key"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// Prefix of every environment variable read by Load.
const EnvPrefix = "KEYQUOTA_"

// Load reads optional .env files, then the environment.
// Variables already set in the environment take precedence over the files.
func Load(files ...string) (*Config, error) {
	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, err
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.Codec = strings.ToLower(strings.TrimSpace(cfg.Codec))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	switch c.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid %sSTORE %q: want redis or memory", EnvPrefix, c.Store)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("invalid %sCACHE_SIZE %d", EnvPrefix, c.CacheSize)
	}
	if c.StatsRetention < time.Second {
		return fmt.Errorf("invalid %sSTATS_RETENTION %s: must be at least 1s", EnvPrefix, c.StatsRetention)
	}
	if _, err := time.LoadLocation(c.StatsTimezone); err != nil {
		return fmt.Errorf("invalid %sSTATS_TIMEZONE %q: %w", EnvPrefix, c.StatsTimezone, err)
	}
	return nil
}
