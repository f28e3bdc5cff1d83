package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Redis-backed implementation of Store suitable for distributed
// deployments. Scripts run server-side so every instance sharing the server
// sees the same atomic window updates.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// RedisConfig holds configuration for the Redis connection.
// Fields are populated by the caller; this package never reads the environment.
type RedisConfig struct {
	// URL is either a host:port address or a redis:// URL.
	URL string

	// Password for Redis authentication (optional)
	Password string

	// DB is the Redis database number (default: 0)
	DB int

	// Prefix is prepended to all keys (default: "keyquota:")
	Prefix string

	// PoolSize is the maximum number of connections (default: 10 * runtime.GOMAXPROCS)
	PoolSize int

	// MinIdleConns is the minimum number of idle connections (default: 0)
	MinIdleConns int

	// DialTimeout is the timeout for establishing new connections (default: 5s)
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads (default: 3s)
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes (default: ReadTimeout)
	WriteTimeout time.Duration
}

// DefaultPrefix namespaces every key written by the Redis store.
const DefaultPrefix = "keyquota:"

// NewRedis creates a Redis store and validates the connection with a ping.
// Returns an error if the server cannot be reached within 5 seconds.
//
// Example:
//
//	st, err := store.NewRedis(store.RedisConfig{
//		URL:    "localhost:6379",
//		Prefix: "keyquota:",
//	})
func NewRedis(config RedisConfig) (*Redis, error) {
	opts, err := redisOptions(config)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w: %w", ErrUnavailable, err)
	}

	return NewRedisFromClient(client, config.Prefix), nil
}

// NewRedisFromClient wraps an existing client. An empty prefix selects DefaultPrefix.
func NewRedisFromClient(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

func redisOptions(config RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	if strings.Contains(config.URL, "://") {
		parsed, err := redis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: config.URL}
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB != 0 {
		opts.DB = config.DB
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.MinIdleConns > 0 {
		opts.MinIdleConns = config.MinIdleConns
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}
	return opts, nil
}

// Client exposes the underlying client, used to build a distributed Locker.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// Prefix returns the key namespace of this store.
func (r *Redis) Prefix() string {
	return r.prefix
}

func (r *Redis) fullKeys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = r.prefix + k
	}
	return out
}

func wrapErr(op string, err error) error {
	if redis.HasErrorPrefix(err, "WRONGTYPE") {
		return fmt.Errorf("redis %s failed: %w: %w", op, ErrWrongType, err)
	}
	return fmt.Errorf("redis %s failed: %w: %w", op, ErrUnavailable, err)
}

// Get retrieves the raw value for key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get", err)
	}
	return val, nil
}

// MGet retrieves several values in a single round trip.
func (r *Redis) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := r.client.MGet(ctx, r.fullKeys(keys)...).Result()
	if err != nil {
		return nil, wrapErr("mget", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// Set writes value under key, optionally only when the key is absent.
func (r *Redis) Set(ctx context.Context, key string, value []byte, opts ...SetOption) (bool, error) {
	o := buildSetOptions(opts)
	if o.ifNotExists {
		ok, err := r.client.SetNX(ctx, r.prefix+key, value, 0).Result()
		if err != nil {
			return false, wrapErr("setnx", err)
		}
		return ok, nil
	}
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return false, wrapErr("set", err)
	}
	return true, nil
}

// Del removes keys.
func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, r.fullKeys(keys)...).Result()
	if err != nil {
		return 0, wrapErr("del", err)
	}
	return n, nil
}

// Keys enumerates matching keys with SCAN and strips the store prefix.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var raw []string
	iter := r.client.Scan(ctx, 0, EscapePattern(r.prefix)+pattern, 100).Iterator()
	for iter.Next(ctx) {
		raw = append(raw, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrapErr("scan", err)
	}
	return trimUnique(raw, r.prefix), nil
}

// trimUnique strips prefix and drops the repeats SCAN may return while
// Redis rehashes, keeping first-seen order.
func trimUnique(raw []string, prefix string) []string {
	if len(raw) == 0 {
		return nil
	}
	keys := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, k := range raw {
		k = strings.TrimPrefix(k, prefix)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// IncrBy atomically adds delta to the counter at key.
func (r *Redis) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := r.client.IncrBy(ctx, r.prefix+key, delta).Result()
	if err != nil {
		return 0, wrapErr("incrby", err)
	}
	return n, nil
}

// Expire sets a millisecond-precision TTL on key.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.PExpire(ctx, r.prefix+key, ttl).Result()
	if err != nil {
		return false, wrapErr("pexpire", err)
	}
	return ok, nil
}

// Eval runs the Lua body of script. EVALSHA is tried first and the full
// source is sent only when the server has not cached it yet.
func (r *Redis) Eval(ctx context.Context, script *Script, keys []string, args ...int64) ([]int64, error) {
	argv := make([]any, len(args))
	for i, a := range args {
		argv[i] = a
	}
	result, err := script.lua.Run(ctx, r.client, r.fullKeys(keys), argv...).Int64Slice()
	if err != nil {
		return nil, wrapErr("eval "+script.name, err)
	}
	return result, nil
}

// Close releases the Redis client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
