package rag

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

func TestPersist_RoundTrip(t *testing.T) {
	idx := sampleIndex(t)
	dir := filepath.Join(t.TempDir(), "index")
	require.NoError(t, idx.Persist(dir))

	for _, name := range []string{VectorsFile, ChunksFile, ManifestFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	loaded, err := LoadIndex(dir, "test-model")
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())
	assert.Equal(t, idx.Dimension(), loaded.Dimension())
	assert.Equal(t, idx.Entries(), loaded.Entries())
	assert.WithinDuration(t, idx.BuiltAt(), loaded.BuiltAt(), time.Millisecond)

	query := []float32{0.6, 0.8}
	want, err := idx.Search(query, 3)
	require.NoError(t, err)
	got, err := loaded.Search(query, 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	m, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Count)
	assert.Equal(t, 2, m.Dimension)
	assert.Equal(t, "test-model", m.ModelID)
}

func TestPersist_ReplacesPreviousIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	require.NoError(t, sampleIndex(t).Persist(dir))

	small, err := Build("test-model", []domain.IndexEntry{entry("only", 0, 1, 0)})
	require.NoError(t, err)
	require.NoError(t, small.Persist(dir))

	loaded, err := LoadIndex(dir, "test-model")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())

	siblings, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, siblings, 1, "temporary and backup directories are cleaned up")
}

func TestLoadIndex_Missing(t *testing.T) {
	_, err := LoadIndex(filepath.Join(t.TempDir(), "nope"), "m")
	require.ErrorIs(t, err, port.ErrIndexLoad)

	var le *port.IndexLoadError
	require.ErrorAs(t, err, &le)
	assert.False(t, le.Stale)
}

func TestLoadIndex_StaleModel(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	require.NoError(t, sampleIndex(t).Persist(dir))

	_, err := LoadIndex(dir, "other-model")
	var le *port.IndexLoadError
	require.ErrorAs(t, err, &le)
	assert.True(t, le.Stale)
}

func TestLoadIndex_Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, dir string)
	}{
		{"truncated vectors", func(t *testing.T, dir string) {
			path := filepath.Join(dir, VectorsFile)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0o644))
		}},
		{"edited chunks", func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, ChunksFile), []byte(`[]`), 0o644))
		}},
		{"garbage manifest", func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("::: not yaml"), 0o644))
		}},
		{"missing vectors", func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, VectorsFile)))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "index")
			require.NoError(t, sampleIndex(t).Persist(dir))
			tt.mutate(t, dir)

			_, err := LoadIndex(dir, "test-model")
			assert.ErrorIs(t, err, port.ErrIndexLoad)
		})
	}
}

func TestPersist_EmptyIndex(t *testing.T) {
	idx, err := Build("m", nil)
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "index")
	require.NoError(t, idx.Persist(dir))

	loaded, err := LoadIndex(dir, "m")
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
}
