package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := Compile(SubDocument(map[string]*Node{
		"id":    Leaf(FieldSpec{Type: TypeString, Identity: true, ReadOnly: true}),
		"title": Leaf(FieldSpec{Type: TypeString, Required: true}),
		"meta": SubDocument(map[string]*Node{
			"author": Leaf(FieldSpec{Type: TypeString, Mapping: &Mapping{Source: "docs", Alias: "author_name"}}),
			"year":   Leaf(FieldSpec{Type: TypeInteger}),
		}),
		"comments": Array(SubDocument(map[string]*Node{
			"id":   Leaf(FieldSpec{Type: TypeString}),
			"text": Leaf(FieldSpec{Type: TypeString}),
		})),
	}))
	require.NoError(t, err)
	return tree
}

func TestCompile(t *testing.T) {
	t.Run("indexes leaves and interior nodes", func(t *testing.T) {
		tree := testTree(t)

		assert.Equal(t, "id", tree.IdentityPath())
		assert.Equal(t, []string{"id", "meta.author", "meta.year", "title"}, tree.LeafPaths())

		n, ok := tree.Resolve("meta.author")
		require.True(t, ok)
		assert.Equal(t, KindLeaf, n.Kind)

		n, ok = tree.Resolve("meta")
		require.True(t, ok)
		assert.Equal(t, KindSubDocument, n.Kind)

		n, ok = tree.Resolve("comments")
		require.True(t, ok)
		assert.Equal(t, KindArray, n.Kind)

		// Array elements live relative to the element root, not in the index.
		_, ok = tree.Resolve("comments.text")
		assert.False(t, ok)
	})

	t.Run("requires exactly one identity", func(t *testing.T) {
		_, err := Compile(SubDocument(map[string]*Node{
			"name": Leaf(FieldSpec{Type: TypeString}),
		}))
		assert.ErrorContains(t, err, "no identity field")

		_, err = Compile(SubDocument(map[string]*Node{
			"a": Leaf(FieldSpec{Type: TypeString, Identity: true}),
			"b": Leaf(FieldSpec{Type: TypeString, Identity: true}),
		}))
		assert.ErrorContains(t, err, "duplicate identity")
	})

	t.Run("virtual leaf needs a getter", func(t *testing.T) {
		_, err := Compile(SubDocument(map[string]*Node{
			"id": Leaf(FieldSpec{Type: TypeString, Identity: true}),
			"n":  Leaf(FieldSpec{Type: TypeVirtual}),
		}))
		assert.ErrorContains(t, err, "no getter")
	})

	t.Run("rejects non-document root", func(t *testing.T) {
		_, err := Compile(Leaf(FieldSpec{Type: TypeString, Identity: true}))
		assert.Error(t, err)
	})
}

func TestLeavesBySource(t *testing.T) {
	tree := testTree(t)
	assert.Equal(t, []string{"meta.author"}, tree.LeavesBySource("docs"))
	assert.Empty(t, tree.LeavesBySource("unknown"))
}

func TestSourceField(t *testing.T) {
	tree := testTree(t)

	n, _ := tree.Resolve("meta.author")
	assert.Equal(t, "author_name", SourceField("meta.author", n.Spec))

	n, _ = tree.Resolve("meta.year")
	assert.Equal(t, "year", SourceField("meta.year", n.Spec))
}

func TestDefaultFor(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		_, ok := DefaultFor(&FieldSpec{Type: TypeString})
		assert.False(t, ok)
	})

	t.Run("static", func(t *testing.T) {
		v, ok := DefaultFor(&FieldSpec{Type: TypeString, Default: "draft"})
		require.True(t, ok)
		assert.Equal(t, "draft", v)
	})

	t.Run("generator wins over static", func(t *testing.T) {
		v, ok := DefaultFor(&FieldSpec{
			Type:        TypeString,
			Default:     "static",
			DefaultFunc: func() any { return "generated" },
		})
		require.True(t, ok)
		assert.Equal(t, "generated", v)
	})
}

func TestCheckType(t *testing.T) {
	assert.True(t, CheckType(TypeString, "hello"))
	assert.False(t, CheckType(TypeString, 42))

	assert.True(t, CheckType(TypeInteger, 42))
	assert.True(t, CheckType(TypeInteger, float64(42))) // JSON decode
	assert.False(t, CheckType(TypeInteger, 42.5))

	assert.True(t, CheckType(TypeFloat, 42.5))
	assert.True(t, CheckType(TypeFloat, 42))

	assert.True(t, CheckType(TypeBoolean, true))
	assert.False(t, CheckType(TypeBoolean, "true"))

	assert.True(t, CheckType(TypeDate, "2026-08-24T12:00:00Z"))
	assert.False(t, CheckType(TypeDate, "not a date"))

	// Absence is Required's concern, not the type check's.
	assert.True(t, CheckType(TypeInteger, nil))
}
