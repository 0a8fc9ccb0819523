package entity

import (
	"context"
	"errors"

	"github.com/orneryd/fusedb/pkg/barrier"
	"github.com/orneryd/fusedb/pkg/source"
)

// Read fetches one entity. The primary source is read first; every other
// participating non-reference source is then queried concurrently, keyed
// by the entity's identity (or the binding's local key). A missing primary
// record is a domain not-found condition and no secondary dispatch occurs.
func (t *Type) Read(ctx context.Context, params map[string]any, opts Options) (*Instance, error) {
	opts.normalize()

	primary := t.registry.Primary()
	rec, err := primary.Source.Read(ctx, t.buildQuery(primary, params, opts.Query), source.Options{})
	if errors.Is(err, source.ErrNotFound) {
		return nil, &NotFoundError{Entity: t.name, Key: params[t.tree.IdentityPath()]}
	}
	if err != nil {
		return nil, t.translateSourceError(primary.Name, err)
	}

	in := t.NewInstance()
	in.bindFromSource(primary, rec)

	if err := t.readSecondaries(ctx, in, opts); err != nil {
		return nil, err
	}
	if opts.ResolveReferences {
		if err := t.resolveReferences(ctx, in); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// readSecondaries fans out one sub-operation per participating secondary
// source under a single completion barrier.
func (t *Type) readSecondaries(ctx context.Context, in *Instance, opts Options) error {
	bar := barrier.New(ctx)
	for _, b := range t.registry.Secondaries() {
		if !t.participates(b, opts.View, opts.Fields) {
			continue
		}
		key := in.Get(t.localKeyPath(b))
		if key == nil {
			continue
		}

		switch b.Relationship {
		case source.OneToOne, source.Search:
			bar.Spawn(b.Name, func(ctx context.Context) error {
				rec, err := b.Source.Read(ctx, source.Query{b.ForeignKey: key}, source.Options{})
				if errors.Is(err, source.ErrNotFound) {
					// Secondary rows are optional; only the primary is
					// required to exist.
					return nil
				}
				if err != nil {
					return t.translateSourceError(b.Name, err)
				}
				in.bindFromSource(b, rec)
				return nil
			})
		case source.OneToMany:
			bar.Spawn(b.Name, func(ctx context.Context) error {
				recs, err := b.Source.List(ctx, source.Query{b.ForeignKey: key}, source.Options{})
				if err != nil {
					return t.translateSourceError(b.Name, err)
				}
				for _, rec := range recs {
					in.bindFromSource(b, rec)
				}
				return nil
			})
		}
	}
	return bar.Wait()
}

// resolveReferences is the second read pass: one lookup per reference
// binding whose local field holds a non-nil id, keyed by that value. The
// resolved record is embedded in its plain serialized form. An entity with
// zero eligible references completes immediately.
func (t *Type) resolveReferences(ctx context.Context, in *Instance) error {
	bar := barrier.New(ctx)
	for _, b := range t.registry.Secondaries() {
		if b.Relationship != source.OneToOneRef {
			continue
		}
		refVal := in.Get(b.LocalKey)
		if refVal == nil {
			continue
		}

		bar.Spawn(b.Name, func(ctx context.Context) error {
			rec, err := b.Source.Read(ctx, source.Query{refForeignKey(b): refVal}, source.Options{})
			if errors.Is(err, source.ErrNotFound) {
				return nil
			}
			if err != nil {
				return t.translateSourceError(b.Name, err)
			}
			in.bindReference(b, rec)
			return nil
		})
	}
	return bar.Wait()
}
