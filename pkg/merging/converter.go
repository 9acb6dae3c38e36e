package merging

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Entity is a domain object grouped by its original kind.
type Entity interface {
	EntityKind() string
	Document() map[string]any
}

// ConvertFunc turns one entity into zero or more destination records.
type ConvertFunc func(entity Entity) (Result, error)

// Options tune how a converter's records are reconciled.
type Options struct {
	// MergeFields replace the record type's primary key as the lookup key.
	MergeFields []string `yaml:"merge_fields" json:"merge_fields,omitempty"`
	// MergeAnyway looks up existing rows even when merging is disabled.
	MergeAnyway bool `yaml:"merge_anyway" json:"merge_anyway,omitempty"`
	// Deduplicate keeps the last whole record per key within a batch
	// instead of merging the records field by field.
	Deduplicate bool `yaml:"deduplicate" json:"deduplicate,omitempty"`
}

// Converter is registered per (entity kind, destination type) pair.
type Converter struct {
	Name    string
	Kind    string
	Type    models.RecordType
	Convert ConvertFunc
	Options
}

// KeyColumns is the lookup key for the converter's records.
func (c Converter) KeyColumns() []string {
	if len(c.MergeFields) > 0 {
		return c.MergeFields
	}
	return c.Type.PrimaryKey
}

// appendOnly reports whether records skip existing-row lookup and receive
// fresh surrogate keys.
func (c Converter) appendOnly() bool {
	return c.Type.IsAutoIncrement() && !(c.MergeAnyway && len(c.MergeFields) > 0)
}

func (c Converter) validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("converter name is required")
	case c.Kind == "":
		return fmt.Errorf("converter %s: entity kind is required", c.Name)
	case c.Type.Table == "":
		return fmt.Errorf("converter %s: destination table is required", c.Name)
	case len(c.Type.PrimaryKey) == 0:
		return fmt.Errorf("converter %s: no primary key defined for %s", c.Name, c.Type.Table)
	case c.Convert == nil:
		return fmt.Errorf("converter %s: convert function is required", c.Name)
	}
	return nil
}

// Registry holds converters keyed by entity kind, in registration order.
type Registry struct {
	mu     sync.RWMutex
	byKind map[string][]Converter
}

func NewRegistry() *Registry {
	return &Registry{byKind: make(map[string][]Converter)}
}

func (r *Registry) Register(converters ...Converter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range converters {
		if err := c.validate(); err != nil {
			return err
		}
		for _, existing := range r.byKind[c.Kind] {
			if existing.Name == c.Name {
				return fmt.Errorf("converter %s already registered for %s", c.Name, c.Kind)
			}
		}
		r.byKind[c.Kind] = append(r.byKind[c.Kind], c)
	}
	return nil
}

func (r *Registry) For(kind string) []Converter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Converter(nil), r.byKind[kind]...)
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// GroupByKind buckets entities by EntityKind, keeping arrival order.
func GroupByKind(entities []Entity) map[string][]Entity {
	groups := make(map[string][]Entity)
	for _, e := range entities {
		groups[e.EntityKind()] = append(groups[e.EntityKind()], e)
	}
	return groups
}
