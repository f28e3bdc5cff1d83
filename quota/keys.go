package quota

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/nhalm/keyquota/codec"
	"github.com/nhalm/keyquota/store"
)

// Keys is the API key registry.
type Keys struct {
	store store.Store
	codec codec.Codec
	now   func() time.Time
	lock  store.Locker
	plans *Plans
	cache *cache[*Key]
}

// Create stores a new key. Without params.Value a random 16-character base58
// token is generated. A bound plan must exist at creation time.
func (k *Keys) Create(ctx context.Context, params KeyParams) (*Key, error) {
	md, err := checkMetadata(params.Metadata)
	if err != nil {
		return nil, err
	}

	value := params.Value
	if value == "" {
		if value, err = uniqueToken(ctx, k.store, keyNamespace); err != nil {
			return nil, err
		}
	}

	now := k.now().UTC()
	key := &Key{
		Value:     value,
		Enabled:   params.Enabled == nil || *params.Enabled,
		Plan:      params.Plan,
		Metadata:  md,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = k.withPlan(ctx, key.Plan, func() error {
		data, err := k.codec.Marshal(key)
		if err != nil {
			return err
		}
		ok, err := k.store.Set(ctx, keyNamespace+value, data, store.IfNotExists())
		if err != nil {
			return storeErr("create key", err)
		}
		if !ok {
			return errKeyAlreadyExists(value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	k.cache.remove(value)
	return key, nil
}

// withPlan runs fn after checking that plan exists, holding the plan lock.
// An empty plan skips both.
func (k *Keys) withPlan(ctx context.Context, plan string, fn func() error) error {
	if plan == "" {
		return fn()
	}
	return k.lock.WithLock(ctx, planLock(plan), func() error {
		if _, err := k.plans.load(ctx, plan); err != nil {
			return err
		}
		return fn()
	})
}

// Retrieve returns the key with value or KeyNotFound.
func (k *Keys) Retrieve(ctx context.Context, value string) (*Key, error) {
	if key, ok := k.cache.get(value); ok {
		return key, nil
	}
	key, err := k.load(ctx, value)
	if err != nil {
		return nil, err
	}
	k.cache.add(value, key)
	return key, nil
}

func (k *Keys) load(ctx context.Context, value string) (*Key, error) {
	data, err := k.store.Get(ctx, keyNamespace+value)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errKeyNotFound(value)
	}
	if err != nil {
		return nil, storeErr("retrieve key", err)
	}
	return k.decode(value, data)
}

func (k *Keys) decode(value string, data []byte) (*Key, error) {
	var key Key
	if err := k.codec.Unmarshal(data, &key); err != nil {
		return nil, err
	}
	key.Value = value
	return &key, nil
}

// Update changes the enabled flag, plan binding or metadata of a key.
func (k *Keys) Update(ctx context.Context, value string, params KeyUpdate) (*Key, error) {
	key, err := k.load(ctx, value)
	if err != nil {
		return nil, err
	}

	if params.Enabled != nil {
		key.Enabled = *params.Enabled
	}
	if params.Plan != nil {
		key.Plan = *params.Plan
	}
	base := key.Metadata
	if params.ClearMetadata {
		base = nil
	}
	if key.Metadata, err = mergeMetadata(base, params.Metadata); err != nil {
		return nil, err
	}
	key.UpdatedAt = k.now().UTC()

	err = k.withPlan(ctx, key.Plan, func() error {
		data, err := k.codec.Marshal(key)
		if err != nil {
			return err
		}
		if _, err := k.store.Set(ctx, keyNamespace+value, data); err != nil {
			return storeErr("update key", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	k.cache.remove(value)
	return key, nil
}

// Delete removes a key. Its usage window and stats expire on their own.
func (k *Keys) Delete(ctx context.Context, value string) error {
	n, err := k.store.Del(ctx, keyNamespace+value)
	if err != nil {
		return storeErr("delete key", err)
	}
	k.cache.remove(value)
	if n == 0 {
		return errKeyNotFound(value)
	}
	return nil
}

// List returns every key sorted by value.
func (k *Keys) List(ctx context.Context) ([]*Key, error) {
	names, err := k.store.Keys(ctx, keyNamespace+"*")
	if err != nil {
		return nil, storeErr("list keys", err)
	}
	if len(names) == 0 {
		return []*Key{}, nil
	}
	values, err := k.store.MGet(ctx, names...)
	if err != nil {
		return nil, storeErr("list keys", err)
	}

	keys := make([]*Key, 0, len(names))
	for i, name := range names {
		if values[i] == nil {
			continue
		}
		key, err := k.decode(strings.TrimPrefix(name, keyNamespace), values[i])
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Value < keys[j].Value })
	return keys, nil
}
