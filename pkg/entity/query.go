package entity

import (
	"strings"

	"github.com/orneryd/fusedb/pkg/schema"
	"github.com/orneryd/fusedb/pkg/source"
)

// buildQuery derives the per-source parameter map for a binding: the named
// query preset (if any) is merged first, then caller parameters override
// it. For one-to-one bindings field names translate to source-local
// aliases; for other relationships dotted names are stripped to the
// binding's embedded-path prefix.
func (t *Type) buildQuery(b *source.Binding, params map[string]any, presetName string) source.Query {
	q := make(source.Query)
	if presetName != "" {
		if preset, ok := b.Queries[presetName]; ok {
			for k, v := range preset {
				q[k] = v
			}
		}
	}

	for k, v := range params {
		switch b.Relationship {
		case source.OneToOne:
			q[t.sourceFieldName(k)] = t.serializeFor(k, v)
		default:
			if b.Field != "" && schema.HasPrefix(k, b.Field) && k != b.Field {
				q[schema.TrimPrefix(k, b.Field)] = v
				continue
			}
			if !strings.Contains(k, ".") {
				q[k] = v
			}
			// Dotted parameters for other subtrees don't concern this
			// binding and are dropped.
		}
	}
	return q
}

// sourceFieldName translates an entity field path to its source-local
// alias; unknown paths pass through untouched (raw column filters).
func (t *Type) sourceFieldName(path string) string {
	node, ok := t.tree.Resolve(path)
	if !ok || node.Kind != schema.KindLeaf {
		return path
	}
	return schema.SourceField(path, node.Spec)
}

// serializeFor applies a field's serialize hook to a query value so that
// filters match the stored representation.
func (t *Type) serializeFor(path string, v any) any {
	node, ok := t.tree.Resolve(path)
	if !ok || node.Kind != schema.KindLeaf {
		return v
	}
	spec := node.Spec
	if spec.Mapping != nil && spec.Mapping.Serialize != nil {
		if sv, err := spec.Mapping.Serialize(v); err == nil {
			return sv
		}
	}
	return v
}

// sourceOptions translates normalized caller options into adapter options,
// mapping the sort field to its source-local alias.
func (t *Type) sourceOptions(opts Options) source.Options {
	out := source.Options{
		Limit:     opts.Limit,
		Offset:    opts.Offset,
		SortOrder: opts.SortOrder,
	}
	if opts.SortField != "" {
		out.SortField = t.sourceFieldName(opts.SortField)
	}
	return out
}
