package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectionInstance(t *testing.T, f *postFixture) *Instance {
	t.Helper()
	in := f.typ.NewInstance()
	in.Bind(map[string]any{
		"id":      "p1",
		"title":   "Projected",
		"status":  "draft",
		"summary": "detail text",
		"comments": []any{
			map[string]any{"id": "c1", "text": "one"},
			map[string]any{"id": "c2", "text": "two"},
		},
	})
	return in
}

func TestToObject(t *testing.T) {
	t.Run("default view", func(t *testing.T) {
		f := newPostFixture(t)
		obj := projectionInstance(t, f).ToObject(ViewDefault, nil)

		assert.Equal(t, "Projected", obj["title"])
		assert.Equal(t, "p1", obj["id"])
		assert.NotContains(t, obj, "summary", "detail-only field stays out of the default view")
		assert.Contains(t, obj, "comments")
	})

	t.Run("named view swaps the field set", func(t *testing.T) {
		f := newPostFixture(t)
		obj := projectionInstance(t, f).ToObject("detail", nil)

		assert.Equal(t, "detail text", obj["summary"])
		assert.NotContains(t, obj, "title")
	})

	t.Run("wildcard view includes everything", func(t *testing.T) {
		f := newPostFixture(t)
		obj := projectionInstance(t, f).ToObject(ViewAll, nil)

		assert.Contains(t, obj, "title")
		assert.Contains(t, obj, "summary")
		assert.Contains(t, obj, "comments")
	})

	t.Run("explicit fields override the view", func(t *testing.T) {
		f := newPostFixture(t)
		obj := projectionInstance(t, f).ToObject("detail", map[string]bool{"title": true})

		assert.Equal(t, "Projected", obj["title"])
		assert.Equal(t, "detail text", obj["summary"], "the view still applies alongside the field list")
	})

	t.Run("naming a parent includes its children", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{
			"author": map[string]any{"id": "a1", "name": "Ada"},
		})

		obj := in.ToObject("detail", map[string]bool{"author": true})
		author, ok := obj["author"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Ada", author["name"])
	})

	t.Run("naming an array descendant includes the array", func(t *testing.T) {
		f := newPostFixture(t)
		obj := projectionInstance(t, f).ToObject("detail", map[string]bool{"comments.text": true})

		arr, ok := obj["comments"].([]any)
		require.True(t, ok)
		require.Len(t, arr, 2)
		el := arr[0].(map[string]any)
		assert.Equal(t, "one", el["text"])
	})

	t.Run("virtual fields compute against the projected object", func(t *testing.T) {
		f := newPostFixture(t)
		obj := projectionInstance(t, f).ToObject(ViewDefault, nil)
		assert.Equal(t, 2, obj["comment_count"])
	})

	t.Run("virtual fields observe view filtering", func(t *testing.T) {
		f := newPostFixture(t)
		obj := projectionInstance(t, f).ToObject("detail", nil)
		assert.NotContains(t, obj, "comment_count")
	})

	t.Run("empty sub-documents are omitted", func(t *testing.T) {
		f := newPostFixture(t)
		obj := projectionInstance(t, f).ToObject(ViewDefault, nil)
		assert.NotContains(t, obj, "author")
	})

	t.Run("unset leaves are omitted", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{"title": "Sparse"})

		obj := in.ToObject(ViewDefault, nil)
		assert.NotContains(t, obj, "body")
		assert.NotContains(t, obj, "status")
	})
}
