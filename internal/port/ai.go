package port

import "context"

// Embedder maps text to unit-length vectors.
// Implementations must be pure functions of the text and ModelID, and
// EmbedBatch(xs)[i] must equal Embed(xs[i]) exactly.
type Embedder interface {
	// ModelID identifies the embedding function; persisted alongside the index.
	ModelID() string

	// Embed returns the L2-normalized embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts; used only for throughput.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator sends a fully assembled prompt to an LLM and returns the completion.
// It never retries internally: failures are classified as *TransientError or
// *FatalError and the caller decides.
type Generator interface {
	Generate(ctx context.Context, prompt, modelID string, temperature float64) (string, error)
}
