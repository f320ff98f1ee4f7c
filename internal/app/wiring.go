// Package app builds the components shared by the server and the index CLI
// from configuration.
package app

import (
	"fmt"

	"github.com/viveksaraswat123/medical-chatbot/internal/adapter/ai"
	"github.com/viveksaraswat123/medical-chatbot/internal/adapter/store"
	"github.com/viveksaraswat123/medical-chatbot/internal/metrics"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
	"github.com/viveksaraswat123/medical-chatbot/internal/rag"
	"github.com/viveksaraswat123/medical-chatbot/pkg/config"
)

// NewEmbedder selects the embedding backend.
func NewEmbedder(cfg *config.Config) (port.Embedder, error) {
	switch cfg.Embedder {
	case config.EmbedderHashing:
		return ai.NewHashingEmbedder(cfg.EmbeddingDimension), nil
	case config.EmbedderOllama:
		return ollama(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}
}

// NewGenerator selects the LLM backend and applies the request rate limit.
func NewGenerator(cfg *config.Config) (port.Generator, error) {
	var gen port.Generator
	switch cfg.Generator {
	case config.GeneratorGroq, config.GeneratorOpenAI:
		gen = ai.NewOpenAIGenerator(ai.OpenAIConfig{
			APIKey:  cfg.GroqAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Timeout: cfg.GenerationTimeout,
		})
	case config.GeneratorOllama:
		gen = ollama(cfg)
	default:
		return nil, fmt.Errorf("unknown generator %q", cfg.Generator)
	}
	return ai.NewRateLimitedGenerator(gen, cfg.GenerationRPS), nil
}

func ollama(cfg *config.Config) *ai.OllamaProvider {
	var opts []ai.OllamaOption
	if cfg.OllamaBatchEmbed {
		opts = append(opts, ai.WithBatchEmbedding())
	}
	return ai.NewOllamaProvider(
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaBaseURL,
			Model:   cfg.OllamaEmbedModel,
			Token:   cfg.OllamaToken,
		},
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaBaseURL,
			Model:   cfg.OllamaChatModel,
			Token:   cfg.OllamaToken,
		},
		cfg.GenerationTimeout,
		opts...,
	)
}

// NewIndexManager builds the manager for the configured corpus and index
// directories. m may be nil.
func NewIndexManager(cfg *config.Config, m *metrics.Metrics) (*rag.Manager, error) {
	embedder, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	chunker, err := rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}
	return rag.NewManager(rag.ManagerConfig{
		CorpusDir: cfg.KnowledgeBaseDir,
		IndexDir:  cfg.VectorStoreDir,
		BatchSize: cfg.EmbedBatchSize,
	}, embedder, chunker, m), nil
}

// NewRetriever wraps manager with the configured k and score floor.
func NewRetriever(cfg *config.Config, manager *rag.Manager, m *metrics.Metrics) *rag.Retriever {
	opts := []rag.RetrieverOption{rag.WithDefaultK(cfg.RetrievalK), rag.WithMetrics(m)}
	if cfg.RetrievalMinScore > 0 {
		opts = append(opts, rag.WithMinScore(cfg.RetrievalMinScore))
	}
	return rag.NewRetriever(manager, opts...)
}

// ConversationStore is a port.ConversationStore that may hold resources.
type ConversationStore interface {
	port.ConversationStore
	Close() error
}

type nopCloser struct{ port.ConversationStore }

func (nopCloser) Close() error { return nil }

// NewConversationStore selects where chat turns live. pg backs the
// postgres kind and is not closed by the returned store.
func NewConversationStore(cfg *config.Config, pg *store.PostgresStore) (ConversationStore, error) {
	switch cfg.ConversationStore {
	case config.StoreMemory:
		return nopCloser{store.NewMemoryStore(cfg.HistoryMaxTurns)}, nil
	case config.StoreBadger:
		s, err := store.NewBadgerStore(cfg.BadgerDir, cfg.HistoryMaxTurns)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return s, nil
	case config.StorePostgres:
		if pg == nil {
			return nil, fmt.Errorf("conversation store %q needs a database", cfg.ConversationStore)
		}
		return nopCloser{pg}, nil
	default:
		return nil, fmt.Errorf("unknown conversation store %q", cfg.ConversationStore)
	}
}
