// Package store provides the key-value backends used to persist plans, keys,
// usage windows and stats.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key does not exist or has expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrUnavailable wraps every transport failure talking to the backend.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrWrongType is returned when a key holds a value of a different kind
	// than the operation expects (for example IncrBy on a hash).
	ErrWrongType = errors.New("store: wrong value type")
)

// Store is the contract the quota layer consumes. Keys are given without the
// backend prefix; implementations namespace them internally.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the raw value of key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// MGet returns values in the order of keys; missing keys yield nil.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)

	// Set writes value under key. With IfNotExists it returns false and
	// leaves the existing value alone when key is already present.
	Set(ctx context.Context, key string, value []byte, opts ...SetOption) (bool, error)

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Keys returns every key matching a glob pattern (*, ?, [..], \ escapes).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// IncrBy adds delta to the integer stored at key and returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Expire sets a TTL on key. Returns false when key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Eval runs script atomically with respect to every other store operation.
	Eval(ctx context.Context, script *Script, keys []string, args ...int64) ([]int64, error)

	// Close releases backend resources.
	Close() error
}

// SetOption configures a Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ifNotExists bool
}

// IfNotExists makes Set conditional on the key being absent.
func IfNotExists() SetOption {
	return func(o *setOptions) {
		o.ifNotExists = true
	}
}

func buildSetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EscapePattern escapes glob metacharacters in s so it matches literally
// inside a Keys pattern.
func EscapePattern(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
