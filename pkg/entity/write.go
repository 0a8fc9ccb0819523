package entity

import (
	"context"
	"errors"
	"reflect"

	"github.com/orneryd/fusedb/pkg/barrier"
	"github.com/orneryd/fusedb/pkg/schema"
	"github.com/orneryd/fusedb/pkg/source"
)

// writeSet is the result of routing an instance's changed fields to the
// source instances that own them.
type writeSet struct {
	// scalar holds one instance per one-to-one/search binding.
	scalar map[string]source.Instance

	// arrays holds per-element instances for one-to-many bindings.
	arrays map[string][]arrayElement
}

type arrayElement struct {
	inst    source.Instance
	values  map[string]any // entity-form element, for writing back generated ids
	destroy bool
}

// Create validates the data, routes changed fields to per-source
// instances, saves the primary source first, propagates its generated
// identity into every dependent instance's foreign key, and saves the
// dependents concurrently. No dependent save is dispatched before the
// primary save has returned. Partial-write states on dependent failure are
// possible and reported as a single failure without rollback.
func (t *Type) Create(ctx context.Context, data map[string]any, opts Options) (*Instance, error) {
	opts.normalize()

	in := t.NewInstance()
	in.Bind(data)
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ws := t.routeChanged(in, false)
	primary := t.registry.Primary()
	pInst := ws.scalar[primary.Name]
	if pInst == nil {
		// The primary save always occurs, even for an entity whose fields
		// all live elsewhere: it owns the identity.
		pInst = primary.Source.NewInstance(nil)
		ws.scalar[primary.Name] = pInst
	}

	if err := pInst.Flush(ctx); err != nil {
		return nil, t.translateSourceError(primary.Name, err)
	}
	id := pInst.ID()
	in.setClean(t.tree.IdentityPath(), t.deserializeFor(t.tree.IdentityPath(), id))

	if err := t.flushDependents(ctx, in, ws, id, opts); err != nil {
		return nil, err
	}

	in.mu.Lock()
	in.bound[primary.Name] = append(in.bound[primary.Name], pInst)
	in.mu.Unlock()
	return in, nil
}

// Update reads the current entity, binds the caller's changes, and routes
// only the changed fields to the source instances already bound by the
// read. Unmodified source instances receive zero flushes. Array elements
// flagged with DestroyKey are removed at their source, concurrently with
// sibling saves, under the same barrier.
func (t *Type) Update(ctx context.Context, params, data map[string]any, opts Options) (*Instance, error) {
	opts.normalize()

	readOpts := opts
	readOpts.View = ViewAll // every source must be bound to route writes
	in, err := t.Read(ctx, params, readOpts)
	if err != nil {
		return nil, err
	}

	in.Bind(data)
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ws := t.routeChanged(in, true)
	primary := t.registry.Primary()
	if pInst, ok := ws.scalar[primary.Name]; ok && pInst.IsModified() {
		if err := pInst.Flush(ctx); err != nil {
			return nil, t.translateSourceError(primary.Name, err)
		}
	}

	if err := t.flushDependents(ctx, in, ws, in.Identity(), opts); err != nil {
		return nil, err
	}
	return in, nil
}

// Delete destroys every non-primary bound source instance concurrently,
// then destroys the primary instance last: foreign-key-holding dependents
// must be gone before the identity they reference is invalidated.
func (t *Type) Delete(ctx context.Context, params map[string]any, opts Options) error {
	opts.normalize()

	readOpts := opts
	readOpts.View = ViewAll
	in, err := t.Read(ctx, params, readOpts)
	if err != nil {
		return err
	}

	bar := barrier.New(ctx)
	for _, b := range t.registry.Secondaries() {
		if b.Relationship == source.OneToOneRef {
			// Referenced records are owned elsewhere.
			continue
		}
		for _, inst := range in.boundInstances(b.Name) {
			bar.Spawn(b.Name, func(ctx context.Context) error {
				err := inst.Remove(ctx)
				if errors.Is(err, source.ErrNotFound) {
					return nil
				}
				if err != nil {
					return t.translateSourceError(b.Name, err)
				}
				return nil
			})
		}
	}
	if err := bar.Wait(); err != nil {
		return err
	}

	primary := t.registry.Primary()
	pInst, ok := in.boundInstance(primary.Name)
	if !ok {
		return &NotFoundError{Entity: t.name, Key: in.Identity()}
	}
	if err := pInst.Remove(ctx); err != nil {
		return t.translateSourceError(primary.Name, err)
	}
	return nil
}

// flushDependents propagates the primary identity into every dependent
// instance, then saves (or removes) them concurrently under one barrier.
// No-op writes are elided: an instance with no modified fields is skipped.
func (t *Type) flushDependents(ctx context.Context, in *Instance, ws *writeSet, id any, opts Options) error {
	bar := barrier.New(ctx)
	primary := t.registry.Primary()

	for name, inst := range ws.scalar {
		if name == primary.Name {
			continue
		}
		b, _ := t.registry.Lookup(name)
		if !opts.DisableForeignKey && b.ForeignKey != "" && inst.Get(b.ForeignKey) == nil {
			inst.Set(b.ForeignKey, id)
		}
		if !inst.IsModified() {
			continue
		}
		bar.Spawn(name, func(ctx context.Context) error {
			if err := inst.Flush(ctx); err != nil {
				return t.translateSourceError(name, err)
			}
			return nil
		})
	}

	for name, elems := range ws.arrays {
		b, _ := t.registry.Lookup(name)
		elemNode := t.arrayElem(b)
		for _, el := range elems {
			if el.destroy {
				bar.Spawn(name, func(ctx context.Context) error {
					err := el.inst.Remove(ctx)
					if errors.Is(err, source.ErrNotFound) {
						return nil
					}
					if err != nil {
						return t.translateSourceError(name, err)
					}
					return nil
				})
				continue
			}
			if !opts.DisableForeignKey && b.ForeignKey != "" && el.inst.Get(b.ForeignKey) == nil {
				el.inst.Set(b.ForeignKey, id)
			}
			if !el.inst.IsModified() {
				continue
			}
			bar.Spawn(name, func(ctx context.Context) error {
				if err := el.inst.Flush(ctx); err != nil {
					return t.translateSourceError(name, err)
				}
				// Write the generated element identity back into the
				// entity-form array element.
				if idName, idField := elemIdentity(elemNode); idName != "" {
					if v := el.inst.Get(idField); v != nil {
						in.mu.Lock()
						el.values[idName] = v
						in.mu.Unlock()
					}
				}
				return nil
			})
		}
	}

	if err := bar.Wait(); err != nil {
		return err
	}

	// Retain flushed handles for later operations on this instance.
	in.mu.Lock()
	for name, inst := range ws.scalar {
		if name == primary.Name {
			continue
		}
		already := false
		for _, b := range in.bound[name] {
			if b == inst {
				already = true
				break
			}
		}
		if !already {
			in.bound[name] = append(in.bound[name], inst)
		}
	}
	in.mu.Unlock()
	return nil
}

// routeChanged walks the tree and assigns every changed, writable field to
// the source instance owning it. Read-only and virtual fields are always
// excluded regardless of caller input; unmapped fields default to the
// primary source. With reuse set, instances bound during the preceding
// read are reused instead of freshly created, and writing a value equal to
// the one already bound is elided.
func (t *Type) routeChanged(in *Instance, reuse bool) *writeSet {
	ws := &writeSet{
		scalar: make(map[string]source.Instance),
		arrays: make(map[string][]arrayElement),
	}
	primary := t.registry.Primary()

	for _, path := range t.tree.LeafPaths() {
		node, _ := t.tree.Resolve(path)
		spec := node.Spec
		if spec.Type == schema.TypeVirtual || spec.ReadOnly {
			continue
		}
		if !in.Changed(path) {
			continue
		}

		bname := primary.Name
		if spec.Mapping != nil {
			bname = spec.Mapping.Source
		}
		b, _ := t.registry.Lookup(bname)
		if b.Relationship == source.OneToMany || b.Relationship == source.OneToOneRef {
			continue // scalar leaves never route to row-set bindings
		}

		inst := ws.scalar[bname]
		if inst == nil {
			if reuse {
				if bi, ok := in.boundInstance(bname); ok {
					inst = bi
				}
			}
			if inst == nil {
				inst = b.Source.NewInstance(nil)
			}
			ws.scalar[bname] = inst
		}

		v := t.serializeFor(path, in.Get(path))
		sf := schema.SourceField(path, spec)
		if reuse && valuesEqual(inst.Get(sf), v) {
			continue
		}
		inst.Set(sf, v)
	}

	for _, b := range t.registry.All() {
		if b.Relationship != source.OneToMany {
			continue
		}
		if !in.Changed(b.Field) {
			continue
		}
		ws.arrays[b.Name] = t.routeArray(in, b, reuse)
	}

	return ws
}

// routeArray builds per-element source instances for a changed one-to-many
// array: existing elements (those carrying an identity) reuse their bound
// instance, new elements get a fresh one, and elements flagged with
// DestroyKey are queued for removal.
func (t *Type) routeArray(in *Instance, b *source.Binding, reuse bool) []arrayElement {
	elemNode := t.arrayElem(b)
	idName, idField := elemIdentity(elemNode)

	byID := make(map[any]source.Instance)
	if reuse {
		for _, inst := range in.boundInstances(b.Name) {
			if id := inst.ID(); id != nil {
				byID[id] = inst
			}
		}
	}

	raw := in.Get(b.Field)
	arr, _ := raw.([]any)
	out := make([]arrayElement, 0, len(arr))
	for _, rawEl := range arr {
		el, ok := rawEl.(map[string]any)
		if !ok {
			continue
		}
		destroy, _ := el[DestroyKey].(bool)

		var idVal any
		if idName != "" {
			idVal = el[idName]
		}
		var inst source.Instance
		if idVal != nil {
			if bi, ok := byID[idVal]; ok {
				inst = bi
			} else {
				inst = b.Source.NewInstance(source.Record{idField: idVal})
			}
		} else {
			inst = b.Source.NewInstance(nil)
		}

		if destroy {
			out = append(out, arrayElement{inst: inst, values: el, destroy: true})
			continue
		}

		if elemNode != nil && elemNode.Kind == schema.KindSubDocument {
			for name, child := range elemNode.Children {
				if child.Kind != schema.KindLeaf {
					continue
				}
				spec := child.Spec
				if spec.Type == schema.TypeVirtual || spec.ReadOnly || name == idName {
					continue
				}
				v, ok := el[name]
				if !ok {
					continue
				}
				if spec.Mapping != nil && spec.Mapping.Serialize != nil {
					if sv, err := spec.Mapping.Serialize(v); err == nil {
						v = sv
					}
				}
				sf := schema.SourceField(name, spec)
				if valuesEqual(inst.Get(sf), v) {
					continue
				}
				inst.Set(sf, v)
			}
		}
		out = append(out, arrayElement{inst: inst, values: el})
	}
	return out
}

// elemIdentity locates the identity leaf of an array element definition.
// It returns the entity-side name and the source-side field name; empty
// when the element declares no identity.
func elemIdentity(elem *schema.Node) (name, field string) {
	if elem == nil || elem.Kind != schema.KindSubDocument {
		return "", ""
	}
	for n, child := range elem.Children {
		if child.Kind == schema.KindLeaf && child.Spec.Identity {
			return n, schema.SourceField(n, child.Spec)
		}
	}
	if child, ok := elem.Children["id"]; ok && child.Kind == schema.KindLeaf {
		return "id", schema.SourceField("id", child.Spec)
	}
	return "", ""
}

// deserializeFor applies a field's deserialize hook to a source value.
func (t *Type) deserializeFor(path string, v any) any {
	node, ok := t.tree.Resolve(path)
	if !ok || node.Kind != schema.KindLeaf {
		return v
	}
	spec := node.Spec
	if spec.Mapping != nil && spec.Mapping.Deserialize != nil {
		if dv, err := spec.Mapping.Deserialize(v); err == nil {
			return dv
		}
	}
	return v
}

func valuesEqual(a, b any) bool {
	if keysEqual(a, b) {
		return true
	}
	return reflect.DeepEqual(a, b)
}
