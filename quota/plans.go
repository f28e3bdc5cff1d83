package quota

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/nhalm/keyquota/codec"
	"github.com/nhalm/keyquota/store"
)

// keyLister is the part of the key registry plan deletion depends on.
type keyLister interface {
	List(ctx context.Context) ([]*Key, error)
}

// Plans is the plan registry.
type Plans struct {
	store store.Store
	codec codec.Codec
	now   func() time.Time
	lock  store.Locker
	keys  keyLister
	cache *cache[*Plan]
}

// Create stores a new plan. It fails with PlanAlreadyExists when id is taken.
func (p *Plans) Create(ctx context.Context, params PlanParams) (*Plan, error) {
	if params.ID == "" {
		return nil, errPlanIDRequired()
	}
	if strings.ContainsFunc(params.ID, unicode.IsSpace) {
		return nil, errPlanInvalidID()
	}
	if params.Limit <= 0 {
		return nil, errPlanInvalidLimit()
	}
	if _, err := ParsePeriod(params.Period); err != nil {
		return nil, err
	}
	md, err := checkMetadata(params.Metadata)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	plan := &Plan{
		ID:        params.ID,
		Limit:     params.Limit,
		Period:    params.Period,
		Metadata:  md,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := p.codec.Marshal(plan)
	if err != nil {
		return nil, err
	}
	ok, err := p.store.Set(ctx, planNamespace+plan.ID, data, store.IfNotExists())
	if err != nil {
		return nil, storeErr("create plan", err)
	}
	if !ok {
		return nil, errPlanAlreadyExists(plan.ID)
	}
	p.cache.remove(plan.ID)
	return plan, nil
}

// Retrieve returns the plan with id or PlanNotFound.
func (p *Plans) Retrieve(ctx context.Context, id string) (*Plan, error) {
	if plan, ok := p.cache.get(id); ok {
		return plan, nil
	}
	plan, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}
	p.cache.add(id, plan)
	return plan, nil
}

func (p *Plans) load(ctx context.Context, id string) (*Plan, error) {
	data, err := p.store.Get(ctx, planNamespace+id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errPlanNotFound(id)
	}
	if err != nil {
		return nil, storeErr("retrieve plan", err)
	}
	return p.decode(id, data)
}

func (p *Plans) decode(id string, data []byte) (*Plan, error) {
	var plan Plan
	if err := p.codec.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	plan.ID = id
	return &plan, nil
}

// Update changes limit, period or metadata of an existing plan.
func (p *Plans) Update(ctx context.Context, id string, params PlanUpdate) (*Plan, error) {
	plan, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.Limit != nil {
		if *params.Limit <= 0 {
			return nil, errPlanInvalidLimit()
		}
		plan.Limit = *params.Limit
	}
	if params.Period != nil {
		if _, err := ParsePeriod(*params.Period); err != nil {
			return nil, err
		}
		plan.Period = *params.Period
	}
	base := plan.Metadata
	if params.ClearMetadata {
		base = nil
	}
	if plan.Metadata, err = mergeMetadata(base, params.Metadata); err != nil {
		return nil, err
	}
	plan.UpdatedAt = p.now().UTC()

	data, err := p.codec.Marshal(plan)
	if err != nil {
		return nil, err
	}
	if _, err := p.store.Set(ctx, planNamespace+id, data); err != nil {
		return nil, storeErr("update plan", err)
	}
	p.cache.remove(id)
	return plan, nil
}

// Delete removes a plan. It fails with PlanInUse when any key is bound to it.
func (p *Plans) Delete(ctx context.Context, id string) error {
	return p.lock.WithLock(ctx, planLock(id), func() error {
		keys, err := p.keys.List(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if k.Plan == id {
				return errPlanInUse(id, k.Value)
			}
		}

		n, err := p.store.Del(ctx, planNamespace+id)
		if err != nil {
			return storeErr("delete plan", err)
		}
		p.cache.remove(id)
		if n == 0 {
			return errPlanNotFound(id)
		}
		return nil
	})
}

// List returns every plan sorted by id.
func (p *Plans) List(ctx context.Context) ([]*Plan, error) {
	names, err := p.store.Keys(ctx, planNamespace+"*")
	if err != nil {
		return nil, storeErr("list plans", err)
	}
	if len(names) == 0 {
		return []*Plan{}, nil
	}
	values, err := p.store.MGet(ctx, names...)
	if err != nil {
		return nil, storeErr("list plans", err)
	}

	plans := make([]*Plan, 0, len(names))
	for i, name := range names {
		if values[i] == nil {
			continue
		}
		plan, err := p.decode(strings.TrimPrefix(name, planNamespace), values[i])
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return plans, nil
}
