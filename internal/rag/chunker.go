package rag

import (
	"fmt"
	"iter"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
)

// Chunker splits documents into overlapping windows measured in runes.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a chunker with window size and overlap; 0 <= overlap < size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks yields the chunks of doc in order. Each range over the returned
// sequence starts again from chunk 0. A document shorter than the window,
// including an empty one, yields exactly one chunk holding the whole text.
func (c *Chunker) Chunks(doc domain.Document) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		runes := []rune(doc.Text)
		stride := c.size - c.overlap

		for i, start := 0, 0; ; i, start = i+1, start+stride {
			end := min(start+c.size, len(runes))
			if !yield(domain.Chunk{SourceID: doc.SourceID, Index: i, Text: string(runes[start:end])}) {
				return
			}
			if end == len(runes) {
				return
			}
		}
	}
}

// ChunkAll collects the chunks of every document in corpus order.
func (c *Chunker) ChunkAll(docs []domain.Document) []domain.Chunk {
	var out []domain.Chunk
	for _, doc := range docs {
		for chunk := range c.Chunks(doc) {
			out = append(out, chunk)
		}
	}
	return out
}
