package entity

import (
	"github.com/orneryd/fusedb/pkg/schema"
	"github.com/orneryd/fusedb/pkg/source"
)

// participates decides whether a binding takes part in a read:
//   - the primary binding always participates
//   - reference bindings never participate in the first pass; they are
//     deferred until the primary record exists
//   - otherwise a binding participates iff the view is the wildcard, the
//     explicit field list implicates one of its owned fields (a requested
//     parent path includes all of its children), or one of its owned
//     fields is a member of the named view
func (t *Type) participates(b *source.Binding, view string, fields map[string]bool) bool {
	if b.IsPrimary {
		return true
	}
	if b.Relationship == source.OneToOneRef {
		return false
	}
	if view == ViewAll {
		return true
	}
	if len(fields) > 0 && t.fieldsImplicate(b, fields) {
		return true
	}
	return t.viewImplicates(b, view)
}

// fieldsImplicate reports whether the explicit field list names one of the
// binding's owned fields, directly or through an ancestor path.
func (t *Type) fieldsImplicate(b *source.Binding, fields map[string]bool) bool {
	for _, owned := range t.ownedPaths(b) {
		for requested, ok := range fields {
			if !ok {
				continue
			}
			// A requested ancestor pulls in all descendants; a requested
			// descendant pulls in the binding that owns the subtree.
			if schema.HasPrefix(owned, requested) || schema.HasPrefix(requested, owned) {
				return true
			}
		}
	}
	return false
}

// viewImplicates reports whether any field owned by the binding belongs to
// the named view.
func (t *Type) viewImplicates(b *source.Binding, view string) bool {
	for _, path := range t.ownedLeaves[b.Name] {
		node, _ := t.tree.Resolve(path)
		if containsView(node.Spec.Views, view) {
			return true
		}
	}
	if b.Field != "" {
		if node, ok := t.tree.Resolve(b.Field); ok {
			if subtreeInView(node, view) {
				return true
			}
		}
	}
	return false
}

// subtreeInView walks a node recursively looking for any leaf whose view
// set contains the named view.
func subtreeInView(n *schema.Node, view string) bool {
	switch n.Kind {
	case schema.KindLeaf:
		return containsView(n.Spec.Views, view)
	case schema.KindSubDocument:
		for _, child := range n.Children {
			if subtreeInView(child, view) {
				return true
			}
		}
	case schema.KindArray:
		return subtreeInView(n.Elem, view)
	}
	return false
}

// ownedPaths returns every entity path a binding owns: its mapped leaves
// plus, for bindings that populate a field subtree, that field path.
func (t *Type) ownedPaths(b *source.Binding) []string {
	paths := t.ownedLeaves[b.Name]
	if b.Field != "" {
		paths = append(append([]string(nil), paths...), b.Field)
	}
	return paths
}

func containsView(views []string, view string) bool {
	for _, v := range views {
		if v == view {
			return true
		}
	}
	return false
}
