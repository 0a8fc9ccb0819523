package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postYAML = `
entity: post
fields:
  id:
    type: string
    identity: true
    read_only: true
  title:
    type: string
    required: true
    views: [default]
bindings:
  - name: db
    adapter: memory
    table: posts
    relationship: one_to_one
    primary: true
  - name: comments
    adapter: memory
    table: comments
    relationship: one_to_many
    foreign_key: post_id
    field: comments
    queries:
      recent:
        flagged: false
`

func writeSchema(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "post.yaml", postYAML)

	def, err := LoadFile(filepath.Join(dir, "post.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "post", def.Entity)
	require.Len(t, def.Bindings, 2)
	assert.True(t, def.Bindings[0].Primary)
	assert.Equal(t, "one_to_many", def.Bindings[1].Relationship)
	assert.Equal(t, "post_id", def.Bindings[1].ForeignKey)
	require.Contains(t, def.Bindings[1].Queries, "recent")
	assert.Equal(t, false, def.Bindings[1].Queries["recent"]["flagged"])

	// The raw field map compiles into a tree.
	tree, err := FromMap(def.Fields)
	require.NoError(t, err)
	assert.Equal(t, "id", tree.IdentityPath())
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	writeSchema(t, dir, "noname.yaml", "fields:\n  id:\n    type: string\n")
	_, err := LoadFile(filepath.Join(dir, "noname.yaml"))
	assert.ErrorContains(t, err, "missing entity name")

	writeSchema(t, dir, "nofields.yaml", "entity: empty\n")
	_, err = LoadFile(filepath.Join(dir, "nofields.yaml"))
	assert.ErrorContains(t, err, "no fields")

	_, err = LoadFile(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "b_post.yaml", postYAML)
	writeSchema(t, dir, "a_user.yml", "entity: user\nfields:\n  id:\n    type: string\n    identity: true\n")
	writeSchema(t, dir, "ignored.txt", "not yaml")

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	// Sorted by file name.
	assert.Equal(t, "user", defs[0].Entity)
	assert.Equal(t, "post", defs[1].Entity)
}
