package domain

// Document is one plain-text file of the knowledge corpus.
type Document struct {
	SourceID string `json:"source_id"` // slash-separated path relative to the corpus root
	Text     string `json:"-"`
}

// Chunk is a fixed-size window of a Document's text.
// Chunk i starts at rune offset i*(size-overlap).
type Chunk struct {
	SourceID string `json:"source_id"`
	Index    int    `json:"chunk_index"`
	Text     string `json:"text"`
}

// IndexEntry pairs a chunk with its unit-length embedding vector.
type IndexEntry struct {
	Chunk  Chunk
	Vector []float32
}

// ScoredChunk is returned by semantic search, including cosine similarity.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}
