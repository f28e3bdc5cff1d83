package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/rs/zerolog/log"
)

// Locker serializes work on a named resource.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func() error) error
}

// DefaultLockTTL bounds how long a crashed holder can block other instances.
const DefaultLockTTL = 10 * time.Second

type redsyncLocker struct {
	rs     *redsync.Redsync
	prefix string
	ttl    time.Duration
}

// Locker returns a distributed Locker backed by redsync on this store's client.
// A zero ttl selects DefaultLockTTL.
func (r *Redis) Locker(ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &redsyncLocker{
		rs:     redsync.New(goredis.NewPool(r.client)),
		prefix: r.prefix + "lock:",
		ttl:    ttl,
	}
}

func (l *redsyncLocker) WithLock(ctx context.Context, name string, fn func() error) error {
	mutex := l.rs.NewMutex(l.prefix+name, redsync.WithExpiry(l.ttl))

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}

	defer func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Str("lock", name).Msg("Failed to unlock mutex")
		}
	}()

	return fn()
}

// localLock is held by at most one caller; refs counts holders and waiters.
type localLock struct {
	ch   chan struct{}
	refs int
}

type localLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

// NewLocalLocker returns a Locker that only serializes callers within this process.
func NewLocalLocker() Locker {
	return &localLocker{locks: make(map[string]*localLock)}
}

func (l *localLocker) WithLock(ctx context.Context, name string, fn func() error) error {
	lock := l.acquire(name)
	defer l.release(name, lock)

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire lock %s: %w", name, ctx.Err())
	}
	defer func() { <-lock.ch }()

	return fn()
}

func (l *localLocker) acquire(name string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[name]
	if !ok {
		lock = &localLock{ch: make(chan struct{}, 1)}
		l.locks[name] = lock
	}
	lock.refs++
	return lock
}

func (l *localLocker) release(name string, lock *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, name)
	}
}

func (l *localLocker) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
