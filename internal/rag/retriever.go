package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/metrics"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// DefaultK is the number of chunks retrieved per question.
const DefaultK = 3

// IndexSource provides the serving index.
type IndexSource interface {
	Index(ctx context.Context) (*Index, error)
}

// Retriever embeds a query and searches the managed index.
type Retriever struct {
	source   IndexSource
	embedder port.Embedder
	k        int
	minScore float64
	floor    bool
	metrics  *metrics.Metrics
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithDefaultK sets the k used when callers pass k <= 0.
func WithDefaultK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.k = k
		}
	}
}

// WithMinScore drops results whose cosine similarity is below score.
func WithMinScore(score float64) RetrieverOption {
	return func(r *Retriever) {
		r.minScore = score
		r.floor = true
	}
}

// WithMetrics records retrieval latency.
func WithMetrics(m *metrics.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

// NewRetriever creates a retriever over the manager's index and embedder.
func NewRetriever(m *Manager, opts ...RetrieverOption) *Retriever {
	r := &Retriever{source: m, embedder: m.Embedder(), k: DefaultK}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns the text of the top-k chunks for query, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	hits, err := r.RetrieveScored(ctx, query, k)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	return texts, nil
}

// RetrieveScored is Retrieve with chunk provenance and scores. An empty
// index, a query the embedder cannot represent, or no chunk above the floor
// yields an empty slice and no error.
func (r *Retriever) RetrieveScored(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.Retrieve")
	defer span.End()

	if k <= 0 {
		k = r.k
	}
	start := time.Now()
	defer func() { r.metrics.ObserveRetrieval(time.Since(start)) }()

	idx, err := r.source.Index(ctx)
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}
	if idx.Len() == 0 {
		return []domain.ScoredChunk{}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if errors.Is(err, port.ErrEmbedding) {
		// Nothing in the query to match on, e.g. only stopwords.
		slog.Debug("query has no embeddable content", "error", err)
		span.SetAttributes(attribute.Int("retrieval.k", k), attribute.Int("retrieval.hits", 0))
		return []domain.ScoredChunk{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := idx.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	if r.floor {
		kept := hits[:0]
		for _, h := range hits {
			if h.Score >= r.minScore {
				kept = append(kept, h)
			}
		}
		hits = kept
	}

	span.SetAttributes(attribute.Int("retrieval.k", k), attribute.Int("retrieval.hits", len(hits)))
	return hits, nil
}
