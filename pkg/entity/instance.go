package entity

import (
	"sync"

	"github.com/orneryd/fusedb/pkg/schema"
	"github.com/orneryd/fusedb/pkg/source"
)

// DestroyKey flags a one-to-many array element for row-level deletion on
// update. It is a reserved structural key: the validation walker never
// strips it and writes never persist it.
const DestroyKey = "_destroy"

// fieldMeta tracks per-leaf state alongside the value tree.
type fieldMeta struct {
	Changed  bool
	Previous any
	Err      *FieldError
}

// Instance is a live, mutable projection of one logical record. It owns
// its value and metadata trees and the source instances bound during the
// current operation; it holds non-owning references to the shared Type.
//
// The mutex guards merges performed by concurrently completing source
// sub-operations within a single orchestration; instances are never shared
// across calls.
type Instance struct {
	typ *Type

	mu     sync.Mutex
	values map[string]any
	meta   map[string]*fieldMeta
	bound  map[string][]source.Instance
}

// NewInstance creates an empty instance of the entity type.
func (t *Type) NewInstance() *Instance {
	return &Instance{
		typ:    t,
		values: make(map[string]any),
		meta:   make(map[string]*fieldMeta),
		bound:  make(map[string][]source.Instance),
	}
}

// Type returns the entity type this instance projects.
func (in *Instance) Type() *Type { return in.typ }

// Get resolves a dot path against the instance values.
func (in *Instance) Get(path string) any {
	in.mu.Lock()
	defer in.mu.Unlock()
	v, _ := schema.ValueAt(in.values, path)
	return v
}

// Identity returns the value of the entity's identity field.
func (in *Instance) Identity() any {
	return in.Get(in.typ.tree.IdentityPath())
}

// Set writes one field value, recording the previous value and marking the
// field changed.
func (in *Instance) Set(path string, v any) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.markChanged(path)
	schema.SetValueAt(in.values, path, v)
}

// setClean writes a field value without marking it changed (generated
// identities, post-flush refreshes).
func (in *Instance) setClean(path string, v any) {
	in.mu.Lock()
	defer in.mu.Unlock()
	schema.SetValueAt(in.values, path, v)
}

// Bind merges raw caller data into the instance, marking every supplied
// field changed. Unknown keys are carried along; the validation walker
// strips them.
func (in *Instance) Bind(data map[string]any) {
	in.mu.Lock()
	defer in.mu.Unlock()

	deepMerge(in.values, data)
	for _, path := range in.typ.tree.LeafPaths() {
		if _, ok := schema.ValueAt(data, path); ok {
			in.markChanged(path)
		}
	}
	// Arrays bind wholesale.
	for _, b := range in.typ.registry.All() {
		if b.Relationship == source.OneToMany {
			if _, ok := schema.ValueAt(data, b.Field); ok {
				in.markChanged(b.Field)
			}
		}
	}
}

// markChanged must be called with the lock held.
func (in *Instance) markChanged(path string) {
	m := in.meta[path]
	if m == nil {
		m = &fieldMeta{}
		in.meta[path] = m
	}
	if !m.Changed {
		m.Previous, _ = schema.ValueAt(in.values, path)
	}
	m.Changed = true
}

// Changed reports whether a field was modified since it was last bound
// from a source.
func (in *Instance) Changed(path string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	m := in.meta[path]
	return m != nil && m.Changed
}

// Previous returns the value a changed field held before modification.
func (in *Instance) Previous(path string) any {
	in.mu.Lock()
	defer in.mu.Unlock()
	if m := in.meta[path]; m != nil {
		return m.Previous
	}
	return nil
}

// FieldErr returns the validation error recorded for a field, if any.
func (in *Instance) FieldErr(path string) *FieldError {
	in.mu.Lock()
	defer in.mu.Unlock()
	if m := in.meta[path]; m != nil {
		return m.Err
	}
	return nil
}

// bindFromSource merges a fetched source record into the instance without
// marking fields changed, and retains a handle on the source row for
// later writes. Safe for concurrent use by sibling sub-operations.
func (in *Instance) bindFromSource(b *source.Binding, rec source.Record) {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch b.Relationship {
	case source.OneToMany:
		elem := in.typ.arrayElem(b)
		entry := recordToValues(elem, rec)
		cur, _ := schema.ValueAt(in.values, b.Field)
		arr, _ := cur.([]any)
		schema.SetValueAt(in.values, b.Field, append(arr, entry))
	default:
		for _, path := range in.typ.ownedLeaves[b.Name] {
			node, _ := in.typ.tree.Resolve(path)
			spec := node.Spec
			v, ok := rec[schema.SourceField(path, spec)]
			if !ok {
				continue
			}
			if spec.Mapping != nil && spec.Mapping.Deserialize != nil {
				if dv, err := spec.Mapping.Deserialize(v); err == nil {
					v = dv
				}
			}
			schema.SetValueAt(in.values, path, v)
		}
	}
	in.bound[b.Name] = append(in.bound[b.Name], b.Source.NewInstance(rec))
}

// bindReference embeds a resolved reference record, as a plain map rather
// than a live handle, at the binding's field path.
func (in *Instance) bindReference(b *source.Binding, rec source.Record) {
	in.mu.Lock()
	defer in.mu.Unlock()
	plain := make(map[string]any, len(rec))
	for k, v := range rec {
		plain[k] = v
	}
	schema.SetValueAt(in.values, b.Field, plain)
}

// boundInstance returns the first source instance bound for a binding.
func (in *Instance) boundInstance(name string) (source.Instance, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	insts := in.bound[name]
	if len(insts) == 0 {
		return nil, false
	}
	return insts[0], true
}

// boundInstances returns every source instance bound for a binding.
func (in *Instance) boundInstances(name string) []source.Instance {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]source.Instance(nil), in.bound[name]...)
}

// recordToValues translates a source record into an entity array element
// using the element definition: aliases map back to entity names,
// deserialize hooks apply, undeclared source fields are dropped.
func recordToValues(elem *schema.Node, rec source.Record) map[string]any {
	if elem == nil || elem.Kind != schema.KindSubDocument {
		out := make(map[string]any, len(rec))
		for k, v := range rec {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(elem.Children))
	for name, child := range elem.Children {
		if child.Kind != schema.KindLeaf {
			continue
		}
		v, ok := rec[schema.SourceField(name, child.Spec)]
		if !ok {
			continue
		}
		if child.Spec.Mapping != nil && child.Spec.Mapping.Deserialize != nil {
			if dv, err := child.Spec.Mapping.Deserialize(v); err == nil {
				v = dv
			}
		}
		out[name] = v
	}
	return out
}

// deepMerge recursively merges src into dst, descending into maps and
// replacing everything else.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				deepMerge(dv, sv)
				continue
			}
			child := make(map[string]any, len(sv))
			deepMerge(child, sv)
			dst[k] = child
			continue
		}
		dst[k] = v
	}
}
