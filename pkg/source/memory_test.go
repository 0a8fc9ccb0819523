package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySource_InsertAndRead(t *testing.T) {
	m := NewMemorySource("posts", "id")
	ctx := context.Background()

	inst := m.NewInstance(nil)
	inst.Set("title", "hello")
	inst.Set("rank", 1)
	require.NoError(t, inst.Flush(ctx))

	id, ok := inst.ID().(string)
	require.True(t, ok)
	assert.NotEmpty(t, id, "flush assigns a generated identity")
	assert.False(t, inst.IsModified(), "flush clears dirty state")

	rec, err := m.Read(ctx, Query{"id": id}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", rec["title"])
}

func TestMemorySource_SeedIsNotModified(t *testing.T) {
	m := NewMemorySource("posts", "id")

	inst := m.NewInstance(Record{"id": "p1", "title": "seeded"})
	assert.False(t, inst.IsModified())
	assert.Empty(t, inst.ModifiedFields())

	inst.Set("title", "changed")
	assert.True(t, inst.IsModified())
	assert.Equal(t, []string{"title"}, inst.ModifiedFields())
}

func TestMemorySource_UpdateMergesModifiedFieldsOnly(t *testing.T) {
	m := NewMemorySource("posts", "id")
	ctx := context.Background()

	seed := m.NewInstance(Record{"id": "p1", "title": "original", "rank": 3})
	seed.Set("title", "original") // dirty to force the first write
	require.NoError(t, seed.Flush(ctx))

	inst := m.NewInstance(Record{"id": "p1", "title": "stale snapshot"})
	inst.Set("rank", 9)
	require.NoError(t, inst.Flush(ctx))

	rec, err := m.Read(ctx, Query{"id": "p1"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 9, rec["rank"])
	// The unmodified stale snapshot field did not clobber the store.
	assert.Equal(t, "original", rec["title"])
}

func TestMemorySource_ReadNotFound(t *testing.T) {
	m := NewMemorySource("posts", "id")
	_, err := m.Read(context.Background(), Query{"id": "missing"}, Options{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySource_List(t *testing.T) {
	m := NewMemorySource("posts", "id")
	ctx := context.Background()

	for _, r := range []Record{
		{"id": "a", "author": "ada", "rank": 3},
		{"id": "b", "author": "ada", "rank": 1},
		{"id": "c", "author": "lin", "rank": 2},
	} {
		inst := m.NewInstance(r)
		inst.Set("rank", r["rank"])
		require.NoError(t, inst.Flush(ctx))
	}

	t.Run("filter by equality", func(t *testing.T) {
		recs, err := m.List(ctx, Query{"author": "ada"}, Options{})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("membership filter", func(t *testing.T) {
		recs, err := m.List(ctx, Query{"id": []any{"a", "c"}}, Options{})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "a", recs[0]["id"])
		assert.Equal(t, "c", recs[1]["id"])
	})

	t.Run("sort and page", func(t *testing.T) {
		recs, err := m.List(ctx, Query{}, Options{SortField: "rank", SortOrder: SortDesc, Limit: 2})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "a", recs[0]["id"])
		assert.Equal(t, "c", recs[1]["id"])

		recs, err = m.List(ctx, Query{}, Options{SortField: "rank", SortOrder: SortAsc, Offset: 2})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "a", recs[0]["id"])
	})

	t.Run("default order is by identity", func(t *testing.T) {
		recs, err := m.List(ctx, Query{}, Options{})
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "a", recs[0]["id"])
		assert.Equal(t, "c", recs[2]["id"])
	})
}

func TestMemorySource_Count(t *testing.T) {
	m := NewMemorySource("posts", "id")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		inst := m.NewInstance(Record{"id": id, "kept": id != "c"})
		inst.Set("kept", id != "c")
		require.NoError(t, inst.Flush(ctx))
	}

	n, err := m.Count(ctx, Query{"kept": true}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemorySource_Remove(t *testing.T) {
	m := NewMemorySource("posts", "id")
	ctx := context.Background()

	inst := m.NewInstance(Record{"id": "p1"})
	inst.Set("title", "x")
	require.NoError(t, inst.Flush(ctx))

	require.NoError(t, inst.Remove(ctx))
	_, err := m.Read(ctx, Query{"id": "p1"}, Options{})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, inst.Remove(ctx), ErrNotFound)

	noID := m.NewInstance(nil)
	assert.ErrorIs(t, noID.Remove(ctx), ErrInvalidData)
}

func TestMemorySource_Closed(t *testing.T) {
	m := NewMemorySource("posts", "id")
	ctx := context.Background()
	require.NoError(t, m.Close())

	_, err := m.Read(ctx, Query{"id": "x"}, Options{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.List(ctx, Query{}, Options{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Count(ctx, Query{}, Options{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.NewInstance(Record{"id": "x"}).Flush(ctx), ErrClosed)
}

func TestMatchQuery(t *testing.T) {
	rec := Record{"id": "a", "rank": 3, "flag": true}

	assert.True(t, matchQuery(rec, Query{}))
	assert.True(t, matchQuery(rec, Query{"rank": 3, "flag": true}))
	assert.False(t, matchQuery(rec, Query{"rank": 4}))
	assert.False(t, matchQuery(rec, Query{"missing": "x"}))

	// Numeric widening: a JSON-decoded float64 matches a stored int.
	assert.True(t, matchQuery(rec, Query{"rank": float64(3)}))
	assert.True(t, matchQuery(rec, Query{"rank": []any{float64(3), float64(7)}}))
	assert.False(t, matchQuery(rec, Query{"rank": []any{float64(7)}}))
}
