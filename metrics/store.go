package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/nhalm/keyquota/store"
)

type instrumentedStore struct {
	next    store.Store
	metrics *Metrics
}

// InstrumentStore wraps st so every call is timed. ErrNotFound is not
// counted as an error.
func InstrumentStore(st store.Store, m *Metrics) store.Store {
	if m == nil {
		return st
	}
	return &instrumentedStore{next: st, metrics: m}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	s.metrics.ObserveStore(op, time.Since(start), err)
}

func (s *instrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	v, err := s.next.Get(ctx, key)
	s.observe("get", start, err)
	return v, err
}

func (s *instrumentedStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	start := time.Now()
	v, err := s.next.MGet(ctx, keys...)
	s.observe("mget", start, err)
	return v, err
}

func (s *instrumentedStore) Set(ctx context.Context, key string, value []byte, opts ...store.SetOption) (bool, error) {
	start := time.Now()
	ok, err := s.next.Set(ctx, key, value, opts...)
	s.observe("set", start, err)
	return ok, err
}

func (s *instrumentedStore) Del(ctx context.Context, keys ...string) (int64, error) {
	start := time.Now()
	n, err := s.next.Del(ctx, keys...)
	s.observe("del", start, err)
	return n, err
}

func (s *instrumentedStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	keys, err := s.next.Keys(ctx, pattern)
	s.observe("keys", start, err)
	return keys, err
}

func (s *instrumentedStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()
	n, err := s.next.IncrBy(ctx, key, delta)
	s.observe("incrby", start, err)
	return n, err
}

func (s *instrumentedStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.next.Expire(ctx, key, ttl)
	s.observe("expire", start, err)
	return ok, err
}

func (s *instrumentedStore) Eval(ctx context.Context, script *store.Script, keys []string, args ...int64) ([]int64, error) {
	start := time.Now()
	res, err := s.next.Eval(ctx, script, keys, args...)
	s.observe("eval:"+script.Name(), start, err)
	return res, err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
