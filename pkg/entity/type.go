// Package entity implements the composition engine: one logical entity is
// assembled from fields owned by different sources, behind a single
// list/read/create/update/delete API. The engine decides per operation
// which sources participate, fans requests out through a completion
// barrier, merges the results, and reports one outcome.
package entity

import (
	"fmt"

	"github.com/orneryd/fusedb/pkg/schema"
	"github.com/orneryd/fusedb/pkg/source"
)

// Type is the immutable per-entity configuration: compiled field
// definition tree, source registry, and derived routing tables. A Type is
// built once at registration and shared by reference across concurrent
// operations; it is never mutated per instance.
type Type struct {
	name     string
	tree     *schema.Tree
	registry *source.Registry
	logger   Logger

	// ownedLeaves maps a binding name to the entity leaf paths it owns,
	// precomputed so participation checks never rescan the tree.
	ownedLeaves map[string][]string
}

// TypeOption customizes a Type at construction.
type TypeOption func(*Type)

// WithLogger replaces the default stdlib-backed logger.
func WithLogger(l Logger) TypeOption {
	return func(t *Type) { t.logger = l }
}

// NewType validates an entity registration. Violations — a field mapping
// referencing an undeclared source, a one-to-many binding without a field
// path — are ConfigurationErrors, fatal here rather than per request.
func NewType(name string, tree *schema.Tree, registry *source.Registry, opts ...TypeOption) (*Type, error) {
	if name == "" {
		return nil, &ConfigurationError{Entity: name, Reason: "empty entity name"}
	}
	if tree == nil {
		return nil, &ConfigurationError{Entity: name, Reason: "no field definition tree"}
	}
	if registry == nil {
		return nil, &ConfigurationError{Entity: name, Reason: "no source registry"}
	}

	t := &Type{
		name:        name,
		tree:        tree,
		registry:    registry,
		logger:      defaultLogger{},
		ownedLeaves: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(t)
	}

	// Every mapped field must reference a declared binding.
	for _, path := range tree.LeafPaths() {
		node, _ := tree.Resolve(path)
		m := node.Spec.Mapping
		if m == nil {
			continue
		}
		if _, ok := registry.Lookup(m.Source); !ok {
			return nil, &ConfigurationError{
				Entity: name,
				Reason: fmt.Sprintf("field %q mapped to undeclared source %q", path, m.Source),
			}
		}
		t.ownedLeaves[m.Source] = append(t.ownedLeaves[m.Source], path)
	}

	// Unmapped non-virtual leaves default to the primary source.
	primary := registry.Primary()
	for _, path := range tree.LeafPaths() {
		node, _ := tree.Resolve(path)
		spec := node.Spec
		if spec.Mapping == nil && spec.Type != schema.TypeVirtual {
			t.ownedLeaves[primary.Name] = append(t.ownedLeaves[primary.Name], path)
		}
	}

	for _, b := range registry.All() {
		if b.Relationship == source.OneToMany || b.Relationship == source.OneToOneRef {
			if b.Field == "" {
				return nil, &ConfigurationError{
					Entity: name,
					Reason: fmt.Sprintf("binding %q (%s) has no entity field path", b.Name, b.Relationship),
				}
			}
			if _, ok := tree.Resolve(b.Field); !ok {
				return nil, &ConfigurationError{
					Entity: name,
					Reason: fmt.Sprintf("binding %q populates unknown field %q", b.Name, b.Field),
				}
			}
		}
		if b.Relationship == source.OneToOneRef && b.LocalKey == "" {
			return nil, &ConfigurationError{
				Entity: name,
				Reason: fmt.Sprintf("reference binding %q has no local key", b.Name),
			}
		}
		needsFK := (b.Relationship == source.OneToOne && !b.IsPrimary) ||
			b.Relationship == source.OneToMany || b.Relationship == source.Search
		if needsFK && b.ForeignKey == "" {
			return nil, &ConfigurationError{
				Entity: name,
				Reason: fmt.Sprintf("binding %q has no foreign key", b.Name),
			}
		}
	}

	return t, nil
}

// Name returns the entity name.
func (t *Type) Name() string { return t.name }

// Tree returns the compiled field definition tree.
func (t *Type) Tree() *schema.Tree { return t.tree }

// IdentityPath returns the dot path of the entity's identity field.
func (t *Type) IdentityPath() string { return t.tree.IdentityPath() }

// Registry returns the source registry.
func (t *Type) Registry() *source.Registry { return t.registry }

// localKeyPath returns the entity-side field joining a binding, defaulting
// to the identity field.
func (t *Type) localKeyPath(b *source.Binding) string {
	if b.LocalKey != "" {
		return b.LocalKey
	}
	return t.tree.IdentityPath()
}

// refForeignKey returns the source-side lookup field of a reference
// binding, defaulting to "id".
func refForeignKey(b *source.Binding) string {
	if b.ForeignKey != "" {
		return b.ForeignKey
	}
	return "id"
}

// arrayElem returns the element node of the array populated by a
// one-to-many binding.
func (t *Type) arrayElem(b *source.Binding) *schema.Node {
	node, ok := t.tree.Resolve(b.Field)
	if !ok || node.Kind != schema.KindArray {
		return nil
	}
	return node.Elem
}
