package preset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePresetQueries(t *testing.T) {
	data := []byte(`
queries = [
    ["service_stats", "df = px.DataFrame('http_events')"],
    ["node_stats", "df = px.DataFrame('process_stats')"],
]
`)
	queries, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, "service_stats", queries[0].Name)
	assert.Equal(t, "df = px.DataFrame('http_events')", queries[0].Text)
	assert.Equal(t, "node_stats", queries[1].Name)
}

func TestParseRejectsDuplicateNames(t *testing.T) {
	data := []byte(`
queries = [
    ["stats", "a"],
    ["stats", "b"],
]
`)
	_, err := Parse(data)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestParseRejectsMalformedPair(t *testing.T) {
	data := []byte(`queries = [["only_name"]]`)
	_, err := Parse(data)
	assert.ErrorIs(t, err, ErrMalformedPair)
}

func TestParseRejectsEmptyFields(t *testing.T) {
	data := []byte(`queries = [["", "text"]]`)
	_, err := Parse(data)
	assert.ErrorIs(t, err, ErrEmptyField)
}

func TestParseEmptyFile(t *testing.T) {
	queries, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, queries)
}

func TestLoadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.toml")
	require.NoError(t, os.WriteFile(path, []byte(`queries = [["q1", "text"]]`), 0o644))

	queries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "q1", queries[0].Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
