package entity

import (
	"context"
	"errors"

	"github.com/orneryd/fusedb/pkg/barrier"
	"github.com/orneryd/fusedb/pkg/source"
)

// keysEqual compares join keys with numeric widening, so an int64 produced
// by one store matches the float64 a JSON decode produced elsewhere.
func keysEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// List fetches a page of entities from the primary source, then decorates
// the whole page: every participating non-primary one-to-one, one-to-many
// and search binding is queried once with the full set of local keys and
// the results are fanned back out by key equality. One bulk query per
// binding, never one per entity. A "q" parameter is resolved through the
// search binding first and narrows the primary query by identity.
func (t *Type) List(ctx context.Context, params map[string]any, opts Options) (*ListResult, error) {
	opts.normalize()

	params, matched, err := t.searchFilter(ctx, params)
	if err != nil {
		return nil, err
	}
	if !matched {
		result := &ListResult{Items: []*Instance{}}
		if opts.IncludeMeta {
			result.Meta = &ListMeta{Limit: opts.Limit, Offset: opts.Offset}
		}
		return result, nil
	}

	primary := t.registry.Primary()
	q := t.buildQuery(primary, params, opts.Query)

	result := &ListResult{}
	if opts.IncludeMeta {
		total, err := primary.Source.Count(ctx, q, source.Options{})
		if err != nil {
			return nil, t.translateSourceError(primary.Name, err)
		}
		result.Meta = &ListMeta{Total: total, Limit: opts.Limit, Offset: opts.Offset}
	}

	recs, err := primary.Source.List(ctx, q, t.sourceOptions(opts))
	if err != nil {
		return nil, t.translateSourceError(primary.Name, err)
	}

	result.Items = make([]*Instance, 0, len(recs))
	for _, rec := range recs {
		in := t.NewInstance()
		in.bindFromSource(primary, rec)
		result.Items = append(result.Items, in)
	}

	if err := t.decorate(ctx, result.Items, opts); err != nil {
		return nil, err
	}
	if opts.ResolveReferences {
		if err := t.resolveListReferences(ctx, result.Items); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// decorate runs the bulk-by-key secondary fetch for a list of
// primary-source entities.
func (t *Type) decorate(ctx context.Context, items []*Instance, opts Options) error {
	if len(items) == 0 {
		return nil
	}

	bar := barrier.New(ctx)
	for _, b := range t.registry.Secondaries() {
		switch b.Relationship {
		case source.OneToOne, source.OneToMany, source.Search:
		default:
			continue
		}
		if !t.participates(b, opts.View, opts.Fields) {
			continue
		}

		localKey := t.localKeyPath(b)
		keys := make([]any, 0, len(items))
		seen := make(map[any]bool, len(items))
		for _, in := range items {
			k := in.Get(localKey)
			if k == nil || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
		if len(keys) == 0 {
			continue
		}

		bar.Spawn(b.Name, func(ctx context.Context) error {
			recs, err := b.Source.List(ctx, source.Query{b.ForeignKey: keys}, source.Options{})
			if err != nil {
				return t.translateSourceError(b.Name, err)
			}
			// Fan results back out by local/foreign key equality.
			for _, in := range items {
				k := in.Get(localKey)
				for _, rec := range recs {
					if keysEqual(rec[b.ForeignKey], k) {
						in.bindFromSource(b, rec)
					}
				}
			}
			return nil
		})
	}
	return bar.Wait()
}

// searchFilter resolves a full-text "q" parameter through the entity's
// search binding: the matching documents' foreign keys become an identity
// membership filter on the primary query, so the page (and its count) is
// still served by the primary. matched is false when the term matched no
// document, in which case the list is empty and the primary is never
// queried. Entities without a search binding pass params through untouched.
func (t *Type) searchFilter(ctx context.Context, params map[string]any) (map[string]any, bool, error) {
	q, ok := params["q"]
	if !ok {
		return params, true, nil
	}
	var search *source.Binding
	for _, b := range t.registry.Secondaries() {
		if b.Relationship == source.Search {
			search = b
			break
		}
	}
	if search == nil {
		return params, true, nil
	}

	recs, err := search.Source.List(ctx, source.Query{"q": q}, source.Options{})
	if err != nil {
		return nil, false, t.translateSourceError(search.Name, err)
	}

	keys := make([]any, 0, len(recs))
	seen := make(map[any]bool, len(recs))
	for _, rec := range recs {
		k := rec[search.ForeignKey]
		if k == nil || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, false, nil
	}

	rest := make(map[string]any, len(params))
	for k, v := range params {
		if k != "q" {
			rest[k] = v
		}
	}
	rest[t.localKeyPath(search)] = keys
	return rest, true, nil
}

// resolveListReferences resolves reference bindings for every entity of a
// page under one barrier.
func (t *Type) resolveListReferences(ctx context.Context, items []*Instance) error {
	bar := barrier.New(ctx)
	for _, b := range t.registry.Secondaries() {
		if b.Relationship != source.OneToOneRef {
			continue
		}
		for _, in := range items {
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
	}
	return bar.Wait()
}
