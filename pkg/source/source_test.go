package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRelationship(t *testing.T) {
	for _, s := range []string{"one_to_one", "one_to_one_ref", "one_to_many", "search"} {
		rel, err := ParseRelationship(s)
		require.NoError(t, err)
		assert.Equal(t, Relationship(s), rel)
	}

	rel, err := ParseRelationship("")
	require.NoError(t, err)
	assert.Equal(t, OneToOne, rel)

	_, err = ParseRelationship("many_to_many")
	assert.ErrorContains(t, err, "unknown relationship")
}

func TestNewRegistry(t *testing.T) {
	db := NewMemorySource("posts", "id")
	docs := NewMemorySource("docs", "id")

	t.Run("valid", func(t *testing.T) {
		r, err := NewRegistry(
			&Binding{Name: "db", Source: db, Relationship: OneToOne, IsPrimary: true},
			&Binding{Name: "docs", Source: docs, Relationship: OneToOne, ForeignKey: "post_id"},
		)
		require.NoError(t, err)

		assert.Equal(t, "db", r.Primary().Name)

		b, ok := r.Lookup("docs")
		require.True(t, ok)
		assert.Equal(t, "post_id", b.ForeignKey)

		_, ok = r.Lookup("nope")
		assert.False(t, ok)

		assert.Len(t, r.All(), 2)
		secs := r.Secondaries()
		require.Len(t, secs, 1)
		assert.Equal(t, "docs", secs[0].Name)
	})

	t.Run("no primary", func(t *testing.T) {
		_, err := NewRegistry(&Binding{Name: "db", Source: db, Relationship: OneToOne})
		assert.ErrorContains(t, err, "no primary binding")
	})

	t.Run("two primaries", func(t *testing.T) {
		_, err := NewRegistry(
			&Binding{Name: "a", Source: db, Relationship: OneToOne, IsPrimary: true},
			&Binding{Name: "b", Source: docs, Relationship: OneToOne, IsPrimary: true},
		)
		assert.ErrorContains(t, err, "multiple primary bindings")
	})

	t.Run("primary must be one_to_one", func(t *testing.T) {
		_, err := NewRegistry(
			&Binding{Name: "a", Source: db, Relationship: OneToMany, IsPrimary: true, Field: "xs"},
		)
		assert.ErrorContains(t, err, "must be one_to_one")
	})

	t.Run("duplicate names", func(t *testing.T) {
		_, err := NewRegistry(
			&Binding{Name: "db", Source: db, Relationship: OneToOne, IsPrimary: true},
			&Binding{Name: "db", Source: docs, Relationship: OneToOne},
		)
		assert.ErrorContains(t, err, "duplicate binding")
	})

	t.Run("missing adapter", func(t *testing.T) {
		_, err := NewRegistry(&Binding{Name: "db", Relationship: OneToOne, IsPrimary: true})
		assert.ErrorContains(t, err, "no adapter")
	})
}
