// Package source defines the adapter contract between the entity engine and
// the physical data stores that contribute fields to an entity, plus the
// per-entity registry of source bindings.
//
// A Source is a named adapter over one store (relational table, document
// collection, search index, blob directory). The engine calls each adapter
// method exactly once per logical sub-operation; fan-out and error
// aggregation happen one layer up, in the completion barrier.
package source

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by all adapters.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidData   = errors.New("invalid record data")
	ErrClosed        = errors.New("source is closed")
)

// Record is one raw row/document as stored by a source.
type Record = map[string]any

// Query is a per-source parameter map. A plain value matches by equality;
// a []any value matches by membership (the bulk-by-key decoration path).
type Query = map[string]any

// SortOrder is the allowed sort direction set.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// Options carries paging and ordering for List and Count.
type Options struct {
	Limit     int
	Offset    int
	SortField string
	SortOrder SortOrder
}

// Source is the adapter contract implemented by every store.
type Source interface {
	// Initialize establishes or attaches the underlying connection.
	Initialize(ctx context.Context) error

	// Read returns a single record matching the query, or ErrNotFound.
	Read(ctx context.Context, query Query, opts Options) (Record, error)

	// List returns all records matching the query, honoring Options.
	List(ctx context.Context, query Query, opts Options) ([]Record, error)

	// Count returns the number of records matching the query.
	Count(ctx context.Context, query Query, opts Options) (int64, error)

	// NewInstance creates a record handle seeded with a snapshot. Seed data
	// is not counted as modified; only Set calls dirty the instance.
	NewInstance(data Record) Instance

	// Close releases the underlying connection.
	Close() error
}

// Instance is a live handle on one source record with dirty tracking.
// Flushing an instance with no identity inserts and assigns the generated
// identity back onto the instance; flushing with an identity updates only
// the modified fields.
type Instance interface {
	Get(name string) any
	Set(name string, v any)
	Values() Record
	ID() any
	IsModified() bool
	ModifiedFields() []string
	Flush(ctx context.Context) error
	Remove(ctx context.Context) error
}

// Relationship describes how a binding's records relate to the entity's
// primary record.
type Relationship string

const (
	// OneToOne rows share the entity's identity (or join on a foreign key)
	// and contribute scalar fields directly.
	OneToOne Relationship = "one_to_one"

	// OneToOneRef rows are looked up by a value produced by the primary
	// read; they never participate in the first read pass.
	OneToOneRef Relationship = "one_to_one_ref"

	// OneToMany rows join on a foreign key and populate an array field.
	OneToMany Relationship = "one_to_many"

	// Search rows join on a foreign key like secondary one-to-one rows and
	// contribute the fields they own; their adapter additionally serves
	// full-text list queries via the reserved "q" term.
	Search Relationship = "search"
)

// ParseRelationship maps a declarative relationship name onto its constant.
func ParseRelationship(s string) (Relationship, error) {
	switch Relationship(s) {
	case OneToOne, OneToOneRef, OneToMany, Search:
		return Relationship(s), nil
	case "":
		return OneToOne, nil
	}
	return "", fmt.Errorf("source: unknown relationship %q", s)
}

// Binding is one entry in an entity's source registry.
type Binding struct {
	// Name is the binding name referenced by field mappings.
	Name string

	// Source is the adapter instance.
	Source Source

	Relationship Relationship

	// IsPrimary marks the binding owning the entity's identity. Exactly one
	// binding per entity is primary; primary reads always occur.
	IsPrimary bool

	// LocalKey is the entity-side field whose value joins this binding
	// (defaults to the identity field for non-reference bindings).
	LocalKey string

	// ForeignKey is the source-side field the LocalKey value is matched
	// against (and, on writes, populated with the generated identity).
	ForeignKey string

	// Field is the entity field path this binding populates for
	// one-to-many and reference relationships.
	Field string

	// Queries holds named query presets merged under caller parameters.
	Queries map[string]Query
}

// Registry is the immutable per-entity table of source bindings.
type Registry struct {
	bindings []*Binding
	byName   map[string]*Binding
	primary  *Binding
}

// NewRegistry validates and freezes a set of bindings. Exactly one binding
// must be primary and names must be unique.
func NewRegistry(bindings ...*Binding) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Binding, len(bindings))}
	for _, b := range bindings {
		if b == nil || b.Name == "" {
			return nil, fmt.Errorf("source: binding with empty name")
		}
		if b.Source == nil {
			return nil, fmt.Errorf("source: binding %q has no adapter", b.Name)
		}
		if _, dup := r.byName[b.Name]; dup {
			return nil, fmt.Errorf("source: duplicate binding %q", b.Name)
		}
		if b.IsPrimary {
			if r.primary != nil {
				return nil, fmt.Errorf("source: multiple primary bindings (%q and %q)", r.primary.Name, b.Name)
			}
			if b.Relationship != OneToOne {
				return nil, fmt.Errorf("source: primary binding %q must be one_to_one", b.Name)
			}
			r.primary = b
		}
		r.byName[b.Name] = b
		r.bindings = append(r.bindings, b)
	}
	if r.primary == nil {
		return nil, fmt.Errorf("source: no primary binding")
	}
	return r, nil
}

// Primary returns the primary binding.
func (r *Registry) Primary() *Binding { return r.primary }

// Lookup returns a binding by name.
func (r *Registry) Lookup(name string) (*Binding, bool) {
	b, ok := r.byName[name]
	return b, ok
}

// All returns the bindings in registration order.
func (r *Registry) All() []*Binding { return r.bindings }

// Secondaries returns every non-primary binding in registration order.
func (r *Registry) Secondaries() []*Binding {
	out := make([]*Binding, 0, len(r.bindings)-1)
	for _, b := range r.bindings {
		if !b.IsPrimary {
			out = append(out, b)
		}
	}
	return out
}
