package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value      []byte
	hash       map[string]string
	expiration time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && !now.Before(e.expiration)
}

// Memory is an in-memory implementation of Store using a map with mutex protection.
//
// WARNING: This implementation is NOT suitable for distributed deployments.
// Each process holds its own state, so quotas are not shared across instances
// and scripts are only atomic within one process.
//
// Use Memory only for:
//   - Local development and testing
//   - Single-instance deployments
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the clock used for TTL expiration.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a new in-memory store with automatic cleanup of expired entries.
// A background goroutine runs every minute to remove expired entries.
//
// Important: You must call Close() when done to stop the cleanup goroutine.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.cleanup()
	return m
}

// lookup returns the live entry for key. Caller holds mu.
func (m *Memory) lookup(key string, now time.Time) (*memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok || entry.expired(now) {
		return nil, false
	}
	return entry, true
}

// Get retrieves the value for key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.lookup(key, m.now())
	if !ok {
		return nil, ErrNotFound
	}
	if entry.hash != nil {
		return nil, ErrWrongType
	}
	return append([]byte(nil), entry.value...), nil
}

// MGet retrieves several values; missing or non-string keys yield nil.
func (m *Memory) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	out := make([][]byte, len(keys))
	for i, key := range keys {
		if entry, ok := m.lookup(key, now); ok && entry.hash == nil {
			out[i] = append([]byte(nil), entry.value...)
		}
	}
	return out, nil
}

// Set writes value under key and clears any TTL.
func (m *Memory) Set(_ context.Context, key string, value []byte, opts ...SetOption) (bool, error) {
	o := buildSetOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	if o.ifNotExists {
		if _, ok := m.lookup(key, m.now()); ok {
			return false, nil
		}
	}
	m.entries[key] = &memoryEntry{value: append([]byte(nil), value...)}
	return true, nil
}

// Del removes keys.
func (m *Memory) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for _, key := range keys {
		if _, ok := m.lookup(key, now); ok {
			n++
		}
		delete(m.entries, key)
	}
	return n, nil
}

// Keys returns the sorted set of live keys matching pattern.
func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	re, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var keys []string
	for key, entry := range m.entries {
		if entry.expired(now) {
			continue
		}
		if re.MatchString(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// IncrBy adds delta to the integer at key, creating it at zero when absent.
func (m *Memory) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().IncrBy(key, delta)
}

// Expire sets a TTL on key.
func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().Expire(key, ttl), nil
}

// Eval runs the Go body of script under the store's write lock, which makes
// it atomic with respect to every other call on this Memory instance.
func (m *Memory) Eval(_ context.Context, script *Script, keys []string, args ...int64) ([]int64, error) {
	if script.local == nil {
		return nil, fmt.Errorf("script %s has no local implementation", script.name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return script.local(m.tx(), keys, args)
}

// Close stops the background cleanup goroutine and releases resources.
func (m *Memory) Close() error {
	m.once.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		m.entries = make(map[string]*memoryEntry)
		m.mu.Unlock()
	})
	return nil
}

func (m *Memory) tx() *memoryTx {
	return &memoryTx{m: m, now: m.now()}
}

type memoryTx struct {
	m   *Memory
	now time.Time
}

func (t *memoryTx) HGet(key, field string) (string, bool) {
	entry, ok := t.m.lookup(key, t.now)
	if !ok || entry.hash == nil {
		return "", false
	}
	v, ok := entry.hash[field]
	return v, ok
}

func (t *memoryTx) HSet(key string, fields map[string]string) {
	entry, ok := t.m.lookup(key, t.now)
	if !ok || entry.hash == nil {
		entry = &memoryEntry{hash: make(map[string]string, len(fields))}
		t.m.entries[key] = entry
	}
	for k, v := range fields {
		entry.hash[k] = v
	}
}

func (t *memoryTx) IncrBy(key string, delta int64) (int64, error) {
	entry, ok := t.m.lookup(key, t.now)
	if !ok {
		entry = &memoryEntry{value: []byte("0")}
		t.m.entries[key] = entry
	}
	if entry.hash != nil {
		return 0, ErrWrongType
	}
	current, err := strconv.ParseInt(string(entry.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value is not an integer: %w", ErrWrongType)
	}
	current += delta
	entry.value = []byte(strconv.FormatInt(current, 10))
	return current, nil
}

func (t *memoryTx) TTL(key string) time.Duration {
	entry, ok := t.m.lookup(key, t.now)
	if !ok {
		return TTLMissing
	}
	if entry.expiration.IsZero() {
		return TTLNone
	}
	return entry.expiration.Sub(t.now)
}

func (t *memoryTx) Expire(key string, ttl time.Duration) bool {
	entry, ok := t.m.lookup(key, t.now)
	if !ok {
		return false
	}
	entry.expiration = t.now.Add(ttl)
	return true
}

// runCleanup executes a single cleanup cycle, removing all expired entries.
func (m *Memory) runCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
		}
	}
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCleanup()
		case <-m.stopCh:
			return
		}
	}
}
