package store

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL sentinels returned by Tx.TTL, mirroring the Redis TTL command.
const (
	TTLNone    time.Duration = -1
	TTLMissing time.Duration = -2
)

// Tx is the view of the Memory store handed to a LocalFunc. All calls happen
// while the store lock is held.
type Tx interface {
	HGet(key, field string) (string, bool)
	HSet(key string, fields map[string]string)
	IncrBy(key string, delta int64) (int64, error)
	TTL(key string) time.Duration
	Expire(key string, ttl time.Duration) bool
}

// LocalFunc is the in-process body of a Script used by the Memory store.
type LocalFunc func(tx Tx, keys []string, args []int64) ([]int64, error)

// Script is an atomic procedure with two bodies: Lua for Redis and a Go
// function for the Memory store. Both must implement the same semantics.
type Script struct {
	name  string
	lua   *redis.Script
	local LocalFunc
}

// NewScript creates a Script. src is the Lua body; it receives the prefixed
// keys as KEYS and the integer args as ARGV and must return an array of
// integers.
func NewScript(name, src string, local LocalFunc) *Script {
	return &Script{
		name:  name,
		lua:   redis.NewScript(src),
		local: local,
	}
}

// Name returns the script identifier.
func (s *Script) Name() string {
	return s.name
}
