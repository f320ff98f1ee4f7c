package rag

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// letterEmbedder embeds text as normalized letter frequencies. Texts
// containing "#bad" fail with an EmbeddingError.
type letterEmbedder struct {
	model      string
	delay      time.Duration
	batchCalls atomic.Int32
}

func (e *letterEmbedder) ModelID() string {
	if e.model == "" {
		return "letters-v1"
	}
	return e.model
}

func (e *letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.embed(text, -1)
}

func (e *letterEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batchCalls.Add(1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.embed(t, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *letterEmbedder) embed(text string, index int) ([]float32, error) {
	if strings.Contains(text, "#bad") {
		return nil, &port.EmbeddingError{Index: index, Reason: "poisoned"}
	}
	v := make([]float64, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return nil, &port.EmbeddingError{Index: index, Reason: "empty text"}
	}
	norm = math.Sqrt(norm)
	out := make([]float32, 26)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out, nil
}

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func newTestManager(t *testing.T, corpus string, emb port.Embedder) (*Manager, string) {
	t.Helper()
	chunker, err := NewChunker(40, 10)
	require.NoError(t, err)
	indexDir := filepath.Join(t.TempDir(), "vector_store_db")
	return NewManager(ManagerConfig{CorpusDir: corpus, IndexDir: indexDir, BatchSize: 4}, emb, chunker, nil), indexDir
}
