package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	ctx := context.Background()

	t.Run("composes fields from every participating source", func(t *testing.T) {
		f := newPostFixture(t)
		created := createPost(t, f, map[string]any{
			"title":     "Composed",
			"published": true,
			"summary":   "the short form",
			"comments":  []any{map[string]any{"text": "hello"}},
		})
		id := created.Identity().(string)

		in, err := f.typ.Read(ctx, map[string]any{"id": id}, Options{View: ViewAll})
		require.NoError(t, err)

		assert.Equal(t, "Composed", in.Get("title"))
		assert.Equal(t, true, in.Get("published"), "deserialize hook ran after the read")
		assert.Equal(t, "the short form", in.Get("summary"))

		arr, ok := in.Get("comments").([]any)
		require.True(t, ok)
		require.Len(t, arr, 1)
		el := arr[0].(map[string]any)
		assert.Equal(t, "hello", el["text"])
	})

	t.Run("view controls source participation", func(t *testing.T) {
		f := newPostFixture(t)
		created := createPost(t, f, map[string]any{"title": "Viewed", "summary": "detail only"})
		id := created.Identity().(string)

		docsReads := f.docs.reads.Load()
		in, err := f.typ.Read(ctx, map[string]any{"id": id}, Options{})
		require.NoError(t, err)
		assert.Equal(t, docsReads, f.docs.reads.Load(), "no default-view field lives in docs")
		assert.Nil(t, in.Get("summary"))

		in, err = f.typ.Read(ctx, map[string]any{"id": id}, Options{View: "detail"})
		require.NoError(t, err)
		assert.Equal(t, docsReads+1, f.docs.reads.Load())
		assert.Equal(t, "detail only", in.Get("summary"))
	})

	t.Run("explicit field list pulls in the owning source", func(t *testing.T) {
		f := newPostFixture(t)
		created := createPost(t, f, map[string]any{"title": "Fielded", "summary": "on demand"})
		id := created.Identity().(string)

		in, err := f.typ.Read(ctx, map[string]any{"id": id}, Options{Fields: map[string]bool{"summary": true}})
		require.NoError(t, err)
		assert.Equal(t, "on demand", in.Get("summary"))
	})

	t.Run("missing primary is not-found with zero secondary dispatch", func(t *testing.T) {
		f := newPostFixture(t)

		_, err := f.typ.Read(ctx, map[string]any{"id": "missing"}, Options{View: ViewAll})
		require.True(t, IsNotFound(err))

		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "post", nf.Entity)
		assert.Equal(t, "missing", nf.Key)

		assert.Zero(t, f.docs.reads.Load())
		assert.Zero(t, f.docs.lists.Load())
		assert.Zero(t, f.comments.lists.Load())
	})

	t.Run("missing secondary row is tolerated", func(t *testing.T) {
		f := newPostFixture(t)
		created := createPost(t, f, map[string]any{"title": "No extras"})

		in, err := f.typ.Read(ctx, map[string]any{"id": created.Identity()}, Options{View: ViewAll})
		require.NoError(t, err)
		assert.Nil(t, in.Get("summary"))
	})
}

func TestReadReferences(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves after the primary read", func(t *testing.T) {
		f := newPostFixture(t)
		f.seedAuthor(t, "a1", "Ada")
		created := createPost(t, f, map[string]any{"title": "Referenced", "author_id": "a1"})

		in, err := f.typ.Read(ctx, map[string]any{"id": created.Identity()}, Options{
			View: ViewAll, ResolveReferences: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "Ada", in.Get("author.name"))
	})

	t.Run("references stay unresolved without the option", func(t *testing.T) {
		f := newPostFixture(t)
		f.seedAuthor(t, "a1", "Ada")
		created := createPost(t, f, map[string]any{"title": "Plain", "author_id": "a1"})

		in, err := f.typ.Read(ctx, map[string]any{"id": created.Identity()}, Options{View: ViewAll})
		require.NoError(t, err)
		assert.Nil(t, in.Get("author.name"))
		assert.Zero(t, f.authors.reads.Load())
	})

	t.Run("nil reference key means zero lookups", func(t *testing.T) {
		f := newPostFixture(t)
		created := createPost(t, f, map[string]any{"title": "Anonymous"})

		_, err := f.typ.Read(ctx, map[string]any{"id": created.Identity()}, Options{
			View: ViewAll, ResolveReferences: true,
		})
		require.NoError(t, err)
		assert.Zero(t, f.authors.reads.Load())
	})

	t.Run("dangling reference is tolerated", func(t *testing.T) {
		f := newPostFixture(t)
		created := createPost(t, f, map[string]any{"title": "Orphan", "author_id": "ghost"})

		in, err := f.typ.Read(ctx, map[string]any{"id": created.Identity()}, Options{
			View: ViewAll, ResolveReferences: true,
		})
		require.NoError(t, err)
		assert.Nil(t, in.Get("author.name"))
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()

	seedPosts := func(t *testing.T, f *postFixture) (string, string) {
		t.Helper()
		p1 := createPost(t, f, map[string]any{
			"title":     "Alpha",
			"author_id": "a1",
			"comments":  []any{map[string]any{"text": "on alpha"}, map[string]any{"text": "more alpha"}},
		})
		p2 := createPost(t, f, map[string]any{
			"title":     "Beta",
			"author_id": "a2",
			"comments":  []any{map[string]any{"text": "on beta"}},
		})
		return p1.Identity().(string), p2.Identity().(string)
	}

	t.Run("decorates the page with one bulk query per binding", func(t *testing.T) {
		f := newPostFixture(t)
		id1, id2 := seedPosts(t, f)

		lists := f.comments.lists.Load()
		result, err := f.typ.List(ctx, nil, Options{View: ViewAll})
		require.NoError(t, err)
		require.Len(t, result.Items, 2)

		assert.Equal(t, lists+1, f.comments.lists.Load(), "one query for the whole page, not one per entity")

		byID := map[string]*Instance{}
		for _, in := range result.Items {
			byID[in.Identity().(string)] = in
		}
		c1, _ := byID[id1].Get("comments").([]any)
		c2, _ := byID[id2].Get("comments").([]any)
		assert.Len(t, c1, 2)
		assert.Len(t, c2, 1)
	})

	t.Run("meta carries the unpaged total", func(t *testing.T) {
		f := newPostFixture(t)
		seedPosts(t, f)

		result, err := f.typ.List(ctx, nil, Options{Limit: 1, IncludeMeta: true})
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		require.NotNil(t, result.Meta)
		assert.Equal(t, int64(2), result.Meta.Total)
		assert.Equal(t, 1, result.Meta.Limit)
	})

	t.Run("no meta without the option", func(t *testing.T) {
		f := newPostFixture(t)
		seedPosts(t, f)

		result, err := f.typ.List(ctx, nil, Options{})
		require.NoError(t, err)
		assert.Nil(t, result.Meta)
		assert.Zero(t, f.db.counts.Load())
	})

	t.Run("filters on primary fields", func(t *testing.T) {
		f := newPostFixture(t)
		id1, _ := seedPosts(t, f)

		result, err := f.typ.List(ctx, map[string]any{"author_id": "a1"}, Options{})
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, id1, result.Items[0].Identity())
	})

	t.Run("unknown sort order falls back to ascending", func(t *testing.T) {
		f := newPostFixture(t)
		seedPosts(t, f)

		result, err := f.typ.List(ctx, nil, Options{SortField: "title", SortOrder: "BOGUS"})
		require.NoError(t, err)
		require.Len(t, result.Items, 2)
		assert.Equal(t, "Alpha", result.Items[0].Get("title"))
		assert.Equal(t, "Beta", result.Items[1].Get("title"))
	})

	t.Run("descending sort", func(t *testing.T) {
		f := newPostFixture(t)
		seedPosts(t, f)

		result, err := f.typ.List(ctx, nil, Options{SortField: "title", SortOrder: "DESC"})
		require.NoError(t, err)
		require.Len(t, result.Items, 2)
		assert.Equal(t, "Beta", result.Items[0].Get("title"))
	})

	t.Run("resolves references across the page", func(t *testing.T) {
		f := newPostFixture(t)
		f.seedAuthor(t, "a1", "Ada")
		f.seedAuthor(t, "a2", "Lin")
		seedPosts(t, f)

		result, err := f.typ.List(ctx, nil, Options{View: ViewAll, ResolveReferences: true})
		require.NoError(t, err)
		require.Len(t, result.Items, 2)

		names := map[any]bool{}
		for _, in := range result.Items {
			names[in.Get("author.name")] = true
		}
		assert.True(t, names["Ada"])
		assert.True(t, names["Lin"])
	})

	t.Run("empty page skips decoration", func(t *testing.T) {
		f := newPostFixture(t)

		result, err := f.typ.List(ctx, nil, Options{View: ViewAll})
		require.NoError(t, err)
		assert.Empty(t, result.Items)
		assert.Zero(t, f.comments.lists.Load())
	})

	t.Run("query preset merges under caller parameters", func(t *testing.T) {
		f := newPostFixture(t)

		reg := f.typ.Registry()
		reg.Primary().Queries = map[string]map[string]any{
			"by-alpha": {"title": "Alpha"},
		}
		seedPosts(t, f)

		result, err := f.typ.List(ctx, nil, Options{Query: "by-alpha"})
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, "Alpha", result.Items[0].Get("title"))

		// Caller parameters override the preset.
		result, err = f.typ.List(ctx, map[string]any{"title": "Beta"}, Options{Query: "by-alpha"})
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, "Beta", result.Items[0].Get("title"))
	})
}
