package quota

import (
	"maps"
	"time"
)

// Store namespaces.
const (
	planNamespace  = "plan:"
	keyNamespace   = "key:"
	usageNamespace = "usage:"
	statsNamespace = "stats:"
)

// Plan is a named quota definition: Limit units per Period.
type Plan struct {
	ID        string    `json:"id" yaml:"id"`
	Limit     int64     `json:"limit" yaml:"limit"`
	Period    string    `json:"period" yaml:"period"`
	Metadata  Metadata  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Duration parses Period.
func (p *Plan) Duration() (time.Duration, error) {
	return ParsePeriod(p.Period)
}

func (p *Plan) clone() *Plan {
	dup := *p
	dup.Metadata = maps.Clone(p.Metadata)
	return &dup
}

// Key is an API key, optionally bound to a plan.
type Key struct {
	Value     string    `json:"value" yaml:"value"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	Plan      string    `json:"plan,omitempty" yaml:"plan,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func (k *Key) clone() *Key {
	dup := *k
	dup.Metadata = maps.Clone(k.Metadata)
	return &dup
}

// PlanParams are the arguments of Plans.Create.
type PlanParams struct {
	ID       string
	Limit    int64
	Period   string
	Metadata Metadata
}

// PlanUpdate lists the mutable fields of a plan. Nil fields are left as is.
// Metadata is merged into the existing metadata; ClearMetadata drops it first.
type PlanUpdate struct {
	Limit         *int64
	Period        *string
	Metadata      Metadata
	ClearMetadata bool
}

// KeyParams are the arguments of Keys.Create. An empty Value generates a
// random token; a nil Enabled defaults to true.
type KeyParams struct {
	Value    string
	Plan     string
	Enabled  *bool
	Metadata Metadata
}

// KeyUpdate lists the mutable fields of a key. A non-nil Plan of "" unbinds
// the key.
type KeyUpdate struct {
	Enabled       *bool
	Plan          *string
	Metadata      Metadata
	ClearMetadata bool
}
