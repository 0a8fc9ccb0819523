package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Run("applies defaults to unset fields", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{"title": "Post"})

		require.NoError(t, in.Validate())
		assert.Equal(t, "draft", in.Get("status"))
		assert.True(t, in.Changed("status"), "the default is persisted like caller input")
	})

	t.Run("collects every failing field", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{"title": "ab", "status": "archived"})

		err := in.Validate()
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		require.Len(t, ve.Fields, 2)

		byField := map[string]FieldError{}
		for _, fe := range ve.Fields {
			byField[fe.Field] = fe
		}
		assert.Equal(t, "min_length", byField["title"].Rule)
		assert.Equal(t, "title must be at least 3 characters", byField["title"].Message)
		assert.Equal(t, "one_of", byField["status"].Rule)
	})

	t.Run("required beats constraints", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{})

		err := in.Validate()
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		require.Len(t, ve.Fields, 1)
		assert.Equal(t, "title", ve.Fields[0].Field)
		assert.Equal(t, "required", ve.Fields[0].Rule)
	})

	t.Run("type check precedes constraints", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{"title": "Post", "published": "yes"})

		err := in.Validate()
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		require.Len(t, ve.Fields, 1)
		assert.Equal(t, "published", ve.Fields[0].Field)
		assert.Equal(t, "type", ve.Fields[0].Rule)
	})

	t.Run("failure is recorded on the field metadata", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{"title": "ab"})

		require.Error(t, in.Validate())
		fe := in.FieldErr("title")
		require.NotNil(t, fe)
		assert.Equal(t, "min_length", fe.Rule)
	})

	t.Run("strips unknown keys", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{"title": "Post", "bogus": 1})

		require.NoError(t, in.Validate())
		assert.Nil(t, in.Get("bogus"))
	})

	t.Run("strips virtual fields supplied by the caller", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{"title": "Post", "comment_count": 99})

		require.NoError(t, in.Validate())
		assert.Nil(t, in.Get("comment_count"))
	})

	t.Run("validates array elements by position", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{
			"title": "Post",
			"comments": []any{
				map[string]any{"text": "fine"},
				map[string]any{"junk": true},
			},
		})

		err := in.Validate()
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		require.Len(t, ve.Fields, 1)
		assert.Equal(t, "comments[1].text", ve.Fields[0].Field)
		assert.Equal(t, "required", ve.Fields[0].Rule)

		arr, ok := in.Get("comments").([]any)
		require.True(t, ok)
		el := arr[1].(map[string]any)
		assert.NotContains(t, el, "junk", "unknown element keys are stripped too")
	})

	t.Run("destroy-flagged elements skip validation", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{
			"title": "Post",
			"comments": []any{
				map[string]any{"id": "c1", DestroyKey: true},
			},
		})

		require.NoError(t, in.Validate(), "a doomed element is not required to be valid")
		arr, ok := in.Get("comments").([]any)
		require.True(t, ok)
		el := arr[0].(map[string]any)
		assert.Equal(t, true, el[DestroyKey], "the destroy flag survives the walk")
	})

	t.Run("non-array value under an array definition is dropped", func(t *testing.T) {
		f := newPostFixture(t)
		in := f.typ.NewInstance()
		in.Bind(map[string]any{"title": "Post", "comments": "not a list"})

		require.NoError(t, in.Validate())
		assert.Nil(t, in.Get("comments"))
	})
}
