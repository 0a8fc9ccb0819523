package entity

import (
	"github.com/orneryd/fusedb/pkg/schema"
)

// ToObject projects the instance into a plain serializable object. A leaf
// is included when the view is the wildcard, the field's view set contains
// the requested view, or the explicit field list names its full dot path
// (naming a parent path includes all of its children). Sub-documents
// appear only when at least one descendant was included; arrays project
// each element against the same rules. Virtual fields are computed last,
// against the object assembled so far, so their getters observe sibling
// values after projection.
func (in *Instance) ToObject(view string, fields map[string]bool) map[string]any {
	in.mu.Lock()
	defer in.mu.Unlock()

	out, _ := projectSubDoc(in.typ.tree.Root(), "", in.values, view, fields)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func projectSubDoc(n *schema.Node, path string, values map[string]any, view string, fields map[string]bool) (map[string]any, bool) {
	out := make(map[string]any)
	included := false

	type virtualField struct {
		name string
		spec *schema.FieldSpec
	}
	var virtuals []virtualField

	for _, name := range sortedChildNames(n) {
		child := n.Children[name]
		p := childPath(path, name)

		switch child.Kind {
		case schema.KindLeaf:
			if child.Spec.Type == schema.TypeVirtual {
				if includeLeaf(p, child.Spec, view, fields) {
					virtuals = append(virtuals, virtualField{name: name, spec: child.Spec})
				}
				continue
			}
			if !includeLeaf(p, child.Spec, view, fields) {
				continue
			}
			v, ok := values[name]
			if !ok {
				continue
			}
			out[name] = v
			included = true

		case schema.KindSubDocument:
			sub, ok := values[name].(map[string]any)
			if !ok {
				continue
			}
			o, inc := projectSubDoc(child, p, sub, view, fields)
			if inc {
				out[name] = o
				included = true
			}

		case schema.KindArray:
			arr, ok := values[name].([]any)
			if !ok {
				continue
			}
			if !includeArray(p, child, view, fields) {
				continue
			}
			items := make([]any, 0, len(arr))
			for _, rawEl := range arr {
				el, ok := rawEl.(map[string]any)
				if !ok || child.Elem == nil || child.Elem.Kind != schema.KindSubDocument {
					items = append(items, rawEl)
					continue
				}
				// Element leaves project against the array's path prefix,
				// without a positional segment.
				o, inc := projectSubDoc(child.Elem, p, el, view, fields)
				if inc || view == ViewAll {
					items = append(items, o)
				}
			}
			out[name] = items
			included = true
		}
	}

	for _, vf := range virtuals {
		if vf.spec.Getter != nil {
			out[vf.name] = vf.spec.Getter(out)
			included = true
		}
	}
	return out, included
}

func includeLeaf(path string, spec *schema.FieldSpec, view string, fields map[string]bool) bool {
	if view == ViewAll {
		return true
	}
	if fieldRequested(path, fields) {
		return true
	}
	return containsView(spec.Views, view)
}

// includeArray decides whether an array field projects at all: on the
// wildcard view, when the field list names the array or anything under
// it, or when any element leaf belongs to the view.
func includeArray(path string, n *schema.Node, view string, fields map[string]bool) bool {
	if view == ViewAll {
		return true
	}
	for requested, ok := range fields {
		if !ok {
			continue
		}
		if schema.HasPrefix(path, requested) || schema.HasPrefix(requested, path) {
			return true
		}
	}
	if n.Elem == nil {
		return false
	}
	return subtreeInView(n.Elem, view)
}

// fieldRequested reports whether the explicit field list names the path
// or one of its ancestors.
func fieldRequested(path string, fields map[string]bool) bool {
	for requested, ok := range fields {
		if !ok {
			continue
		}
		if schema.HasPrefix(path, requested) {
			return true
		}
	}
	return false
}
