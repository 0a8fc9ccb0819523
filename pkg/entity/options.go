package entity

import "github.com/orneryd/fusedb/pkg/source"

// Named views with reserved semantics.
const (
	// ViewDefault is the view applied when a caller passes none.
	ViewDefault = "default"

	// ViewAll is the wildcard view: every source participates and every
	// field is projected.
	ViewAll = "all"
)

// Options control one list/read/create/update/delete call.
type Options struct {
	// View names a predeclared field subset; defaults to ViewDefault.
	View string

	// Fields explicitly includes fields by dot path. Naming a parent path
	// includes all of its children.
	Fields map[string]bool

	Limit  int
	Offset int

	// SortField and SortOrder order list results. SortOrder is validated
	// against {ASC, DESC} and defaults to ascending.
	SortField string
	SortOrder source.SortOrder

	// IncludeMeta attaches total-count metadata to list results.
	IncludeMeta bool

	// ResolveReferences enables the second read pass that embeds
	// one-to-one-reference lookups keyed off the primary record.
	ResolveReferences bool

	// DisableForeignKey suppresses propagation of the primary identity into
	// dependent source instances on writes.
	DisableForeignKey bool

	// Query names a per-source query preset merged under caller parameters.
	Query string
}

// normalize applies defaults and the sort-order allow-list.
func (o *Options) normalize() {
	if o.View == "" {
		o.View = ViewDefault
	}
	if o.SortOrder != source.SortAsc && o.SortOrder != source.SortDesc {
		o.SortOrder = source.SortAsc
	}
	if o.Limit < 0 {
		o.Limit = 0
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// ListMeta describes one page of list results.
type ListMeta struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// ListResult is the outcome of a List call.
type ListResult struct {
	Items []*Instance
	Meta  *ListMeta
}
