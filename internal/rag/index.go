package rag

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
)

// ErrInvalidK is returned by Search when k < 1.
var ErrInvalidK = errors.New("k must be at least 1")

// Index is an immutable flat vector index. Vectors are unit length, so cosine
// similarity is a dot product. Safe for concurrent Search.
type Index struct {
	modelID string
	dim     int
	chunks  []domain.Chunk
	vectors []float32 // len(chunks)*dim, row-major
	builtAt time.Time
}

// Build constructs an index from entries, preserving their order for tie-breaks.
func Build(modelID string, entries []domain.IndexEntry) (*Index, error) {
	idx := &Index{modelID: modelID, builtAt: time.Now()}
	if len(entries) == 0 {
		return idx, nil
	}

	idx.dim = len(entries[0].Vector)
	if idx.dim == 0 {
		return nil, fmt.Errorf("build index: entry 0 has an empty vector")
	}

	idx.chunks = make([]domain.Chunk, len(entries))
	idx.vectors = make([]float32, 0, len(entries)*idx.dim)
	for i, e := range entries {
		if len(e.Vector) != idx.dim {
			return nil, fmt.Errorf("build index: entry %d has dimension %d, want %d", i, len(e.Vector), idx.dim)
		}
		idx.chunks[i] = e.Chunk
		idx.vectors = append(idx.vectors, e.Vector...)
	}
	return idx, nil
}

// ModelID returns the embedding model the vectors were produced with.
func (x *Index) ModelID() string { return x.modelID }

// Dimension returns the vector dimension, 0 for an empty index.
func (x *Index) Dimension() int { return x.dim }

// BuiltAt returns when the index was built.
func (x *Index) BuiltAt() time.Time { return x.builtAt }

// Len returns the number of entries.
func (x *Index) Len() int { return len(x.chunks) }

// Search returns up to k entries by descending cosine similarity to query.
// Equal scores keep insertion order, so a smaller k always yields a prefix
// of a larger one.
func (x *Index) Search(query []float32, k int) ([]domain.ScoredChunk, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	if x.Len() == 0 {
		return []domain.ScoredChunk{}, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), x.dim)
	}

	type hit struct {
		pos   int
		score float64
	}
	hits := make([]hit, x.Len())
	for i := range x.chunks {
		hits[i] = hit{pos: i, score: dot(query, x.vectors[i*x.dim:(i+1)*x.dim])}
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})

	k = min(k, len(hits))
	out := make([]domain.ScoredChunk, k)
	for i := range k {
		out[i] = domain.ScoredChunk{Chunk: x.chunks[hits[i].pos], Score: hits[i].score}
	}
	return out, nil
}

// Entries returns a copy of the index contents in insertion order.
func (x *Index) Entries() []domain.IndexEntry {
	out := make([]domain.IndexEntry, x.Len())
	for i := range x.chunks {
		out[i] = domain.IndexEntry{
			Chunk:  x.chunks[i],
			Vector: slices.Clone(x.vectors[i*x.dim : (i+1)*x.dim]),
		}
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
