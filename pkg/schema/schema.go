// Package schema defines the field definition tree that describes an entity:
// field types, constraints, view memberships, and the mapping that tells the
// engine which source owns each field.
//
// A tree is a recursive tagged union of three node kinds:
//   - Leaf: a scalar (or virtual) field described by a FieldSpec
//   - SubDocument: a nested group of named child nodes
//   - Array: a repeated element node (usually a sub-document)
//
// Trees are compiled once at registration time into a flat dot-path index so
// that per-request lookups never re-split path strings. Compiled trees are
// immutable and safe for concurrent use by any number of entity operations.
package schema

import (
	"fmt"
	"sort"
	"time"
)

// FieldType is the declared scalar type of a leaf field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeFloat   FieldType = "float"
	TypeDate    FieldType = "date"
	TypeBoolean FieldType = "boolean"

	// TypeVirtual marks a computed, unmapped field. Virtual fields are never
	// validated or written to a source; they are evaluated last during
	// projection via the FieldSpec Getter.
	TypeVirtual FieldType = "virtual"
)

// Kind discriminates the node union.
type Kind int

const (
	KindLeaf Kind = iota
	KindSubDocument
	KindArray
)

// Mapping binds a leaf field to a named source.
type Mapping struct {
	// Source is the binding name in the entity's source registry.
	Source string

	// Alias is the source-local column/field name when it differs from the
	// entity field name.
	Alias string

	// PrimaryKey marks the source-side primary key column.
	PrimaryKey bool

	// Serialize converts an entity value into its source representation
	// before a write. Optional.
	Serialize func(v any) (any, error)

	// Deserialize converts a source value into its entity representation
	// after a read. Optional. For any field defining both hooks,
	// Serialize(Deserialize(x)) must equal x.
	Deserialize func(v any) (any, error)
}

// Constraint is one named validation rule attached to a leaf field.
// Rules evaluate in declaration order and the first failing rule stops
// evaluation for that field.
type Constraint struct {
	Name    string
	Args    []any
	Check   func(v any, args ...any) bool
	Message string
}

// FieldSpec describes one leaf field.
type FieldSpec struct {
	Type     FieldType
	Required bool
	ReadOnly bool

	// Identity marks the entity's identity field. Exactly one leaf per tree
	// must set it.
	Identity bool

	// Default is the value applied when a required field is unset; if
	// DefaultFunc is non-nil it wins over Default.
	Default     any
	DefaultFunc func() any

	// Views is the set of named views this field appears under. The "all"
	// view always includes every mapped, non-virtual field regardless of
	// this set.
	Views []string

	Constraints []Constraint

	// Mapping is nil for unmapped fields; unmapped non-virtual fields are
	// routed to the primary source.
	Mapping *Mapping

	// Getter computes a virtual field from the containing serialized object.
	Getter func(obj map[string]any) any
}

// Node is one node of the field definition tree.
type Node struct {
	Kind     Kind
	Spec     *FieldSpec       // KindLeaf
	Children map[string]*Node // KindSubDocument
	Elem     *Node            // KindArray
}

// Leaf builds a leaf node.
func Leaf(spec FieldSpec) *Node { return &Node{Kind: KindLeaf, Spec: &spec} }

// SubDocument builds a nested document node.
func SubDocument(children map[string]*Node) *Node {
	return &Node{Kind: KindSubDocument, Children: children}
}

// Array builds a repeated element node.
func Array(elem *Node) *Node { return &Node{Kind: KindArray, Elem: elem} }

// Tree is a compiled field definition tree.
type Tree struct {
	root     *Node
	index    map[string]*Node // dot path -> node (leaves and interior nodes)
	leaves   []string         // sorted leaf paths, for deterministic walks
	identity string           // dot path of the identity leaf
}

// Compile validates a definition tree and resolves it into a flat path
// index. It enforces that exactly one leaf carries the Identity flag and
// that virtual leaves define a Getter.
func Compile(root *Node) (*Tree, error) {
	if root == nil || root.Kind != KindSubDocument {
		return nil, fmt.Errorf("schema: root must be a sub-document")
	}
	t := &Tree{root: root, index: make(map[string]*Node)}
	if err := t.compileNode(root, ""); err != nil {
		return nil, err
	}
	if t.identity == "" {
		return nil, fmt.Errorf("schema: no identity field declared")
	}
	sort.Strings(t.leaves)
	return t, nil
}

func (t *Tree) compileNode(n *Node, path string) error {
	if path != "" {
		t.index[path] = n
	}
	switch n.Kind {
	case KindLeaf:
		spec := n.Spec
		if spec == nil {
			return fmt.Errorf("schema: leaf %q has no spec", path)
		}
		if spec.Type == TypeVirtual && spec.Getter == nil {
			return fmt.Errorf("schema: virtual field %q has no getter", path)
		}
		if spec.Identity {
			if t.identity != "" {
				return fmt.Errorf("schema: duplicate identity field %q (already %q)", path, t.identity)
			}
			t.identity = path
		}
		t.leaves = append(t.leaves, path)
	case KindSubDocument:
		for name, child := range n.Children {
			if child == nil {
				return fmt.Errorf("schema: nil child %q under %q", name, path)
			}
			if err := t.compileNode(child, joinPath(path, name)); err != nil {
				return err
			}
		}
	case KindArray:
		if n.Elem == nil {
			return fmt.Errorf("schema: array %q has no element definition", path)
		}
		// Array elements are validated per element at runtime; their inner
		// structure is compiled relative to the element root, not indexed by
		// absolute path.
		if n.Elem.Kind == KindLeaf && n.Elem.Spec == nil {
			return fmt.Errorf("schema: array %q element has no spec", path)
		}
	default:
		return fmt.Errorf("schema: unknown node kind %d at %q", n.Kind, path)
	}
	return nil
}

// Root returns the tree's root node.
func (t *Tree) Root() *Node { return t.root }

// IdentityPath returns the dot path of the identity field.
func (t *Tree) IdentityPath() string { return t.identity }

// Resolve returns the node at a dot path.
func (t *Tree) Resolve(path string) (*Node, bool) {
	n, ok := t.index[path]
	return n, ok
}

// LeafPaths returns every leaf path in sorted order.
func (t *Tree) LeafPaths() []string { return t.leaves }

// LeavesBySource returns the paths of all leaves mapped to the named
// source binding, in sorted order.
func (t *Tree) LeavesBySource(source string) []string {
	var out []string
	for _, p := range t.leaves {
		spec := t.index[p].Spec
		if spec.Mapping != nil && spec.Mapping.Source == source {
			out = append(out, p)
		}
	}
	return out
}

// SourceField returns the source-local name for a leaf: its mapping alias
// when set, otherwise the last path segment.
func SourceField(path string, spec *FieldSpec) string {
	if spec != nil && spec.Mapping != nil && spec.Mapping.Alias != "" {
		return spec.Mapping.Alias
	}
	segs := SplitPath(path)
	return segs[len(segs)-1]
}

// DefaultFor returns the field's default value, invoking the generator when
// one is configured. ok is false when the spec declares no default.
func DefaultFor(spec *FieldSpec) (v any, ok bool) {
	if spec.DefaultFunc != nil {
		return spec.DefaultFunc(), true
	}
	if spec.Default != nil {
		return spec.Default, true
	}
	return nil, false
}

// CheckType reports whether a value is acceptable for a declared field type.
// Nil values are always acceptable; Required handles absence separately.
func CheckType(ft FieldType, v any) bool {
	if v == nil {
		return true
	}
	switch ft {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		switch v.(type) {
		case int, int32, int64:
			return true
		case float64: // JSON numbers decode as float64
			f := v.(float64)
			return f == float64(int64(f))
		}
		return false
	case TypeFloat:
		switch v.(type) {
		case float32, float64, int, int64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeDate:
		switch d := v.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339, d)
			return err == nil
		}
		return false
	case TypeVirtual:
		return true
	}
	return false
}
