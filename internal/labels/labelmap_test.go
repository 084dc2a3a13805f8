package labels

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oidSample = `
# Open Images boxable classes (excerpt)
item {
  name: "/m/011k07"
  id: 1
  display_name: "Tortoise"
}
item {
  name: "/m/011q46kg"
  id: 2
  display_name: "Container"
}
item {
  name: "/m/012074"
  id: 3
}
`

func TestOIDNeedsLabelMapFile(t *testing.T) {
	_, err := Load("oid")
	require.ErrorIs(t, err, ErrLabelMapRequired)
	assert.NotErrorIs(t, err, ErrUnknownDataset)

	_, err = Resolve("OID", "")
	require.ErrorIs(t, err, ErrLabelMapRequired)
}

func TestResolveFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oid_bbox_trainable_label_map.pbtxt")
	require.NoError(t, os.WriteFile(path, []byte(oidSample), 0o644))

	tbl, err := Resolve(" OID ", path)
	require.NoError(t, err)
	assert.Equal(t, "oid", tbl.Dataset())
	assert.Equal(t, []int{1, 2, 3}, tbl.IDs())

	label, err := tbl.Label(1)
	require.NoError(t, err)
	assert.Equal(t, "Tortoise", label)

	// name is used when display_name is missing
	label, err = tbl.Label(3)
	require.NoError(t, err)
	assert.Equal(t, "/m/012074", label)
}

func TestResolveFallsBackToBuiltins(t *testing.T) {
	tbl, err := Resolve("voc", "")
	require.NoError(t, err)
	assert.Equal(t, 20, tbl.Len())
}

func TestParseLabelMapIgnoresExtraFields(t *testing.T) {
	tbl, err := ParseLabelMap("custom", []byte(`item { id: 7 name: "widget" frequency: FREQUENT }`))
	require.NoError(t, err)
	label, err := tbl.Label(7)
	require.NoError(t, err)
	assert.Equal(t, "widget", label)
}

func TestParseLabelMapErrors(t *testing.T) {
	cases := map[string]string{
		"syntax":    `item { id: `,
		"no id":     `item { name: "x" }`,
		"duplicate": `item { id: 1 name: "a" } item { id: 1 name: "b" }`,
		"empty":     ``,
	}
	for name, in := range cases {
		_, err := ParseLabelMap("custom", []byte(in))
		assert.Error(t, err, name)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("oid", filepath.Join(t.TempDir(), "nope.pbtxt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
