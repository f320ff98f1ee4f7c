package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/metrics"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

const tracerName = "github.com/viveksaraswat123/medical-chatbot/internal/rag"

// State is the lifecycle state of the managed index.
type State int32

const (
	StateUnbuilt State = iota
	StateBuilding
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ManagerConfig locates the corpus and the persisted index.
type ManagerConfig struct {
	CorpusDir string
	IndexDir  string
	BatchSize int // chunks per EmbedBatch call
}

// Status is a snapshot of the manager for health and admin endpoints.
type Status struct {
	State     State     `json:"state"`
	ModelID   string    `json:"model_id"`
	Entries   int       `json:"entries"`
	BuiltAt   time.Time `json:"built_at,omitempty"`
	Builds    int       `json:"builds"`
	LastError string    `json:"last_error,omitempty"`
}

// Manager owns the serving index. The first caller that finds no index loads
// it from disk or builds it; concurrent callers share that one flight. Builds
// never overlap, and a failed build leaves both the serving index and the
// persisted one untouched.
type Manager struct {
	cfg      ManagerConfig
	embedder port.Embedder
	chunker  *Chunker
	metrics  *metrics.Metrics

	current atomic.Pointer[Index]
	flight  singleflight.Group
	buildMu sync.Mutex

	mu      sync.Mutex
	state   State
	builds  int
	lastErr error
}

// NewManager creates an index manager. m may be nil.
func NewManager(cfg ManagerConfig, embedder port.Embedder, chunker *Chunker, m *metrics.Metrics) *Manager {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &Manager{cfg: cfg, embedder: embedder, chunker: chunker, metrics: m}
}

// Index returns the serving index, loading or building it on first use.
func (m *Manager) Index(ctx context.Context) (*Index, error) {
	if idx := m.current.Load(); idx != nil {
		return idx, nil
	}
	return m.do(ctx, "ensure", m.ensure)
}

// Rebuild builds a fresh index from the corpus, persists it and swaps it in.
// Searches keep using the previous index until the swap.
func (m *Manager) Rebuild(ctx context.Context) (*Index, error) {
	return m.do(ctx, "rebuild", m.rebuild)
}

// Status reports the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{State: m.state, ModelID: m.embedder.ModelID(), Builds: m.builds}
	if idx := m.current.Load(); idx != nil {
		st.Entries = idx.Len()
		st.BuiltAt = idx.BuiltAt()
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Embedder returns the embedder used for both chunks and queries.
func (m *Manager) Embedder() port.Embedder { return m.embedder }

// do runs fn once per key for all concurrent callers. The shared flight is
// detached from any one caller's cancellation; a caller whose ctx ends stops
// waiting without aborting the build for the others.
func (m *Manager) do(ctx context.Context, key string, fn func(context.Context) (*Index, error)) (*Index, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.flight.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index), nil
	}
}

func (m *Manager) ensure(ctx context.Context) (*Index, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	// A rebuild may have published an index while we waited for the lock.
	if idx := m.current.Load(); idx != nil {
		return idx, nil
	}

	idx, err := LoadIndex(m.cfg.IndexDir, m.embedder.ModelID())
	if err == nil {
		slog.Info("📚 vector index loaded", "dir", m.cfg.IndexDir, "entries", idx.Len(), "model", idx.ModelID())
		m.publish(idx)
		m.metrics.SetIndexEntries(idx.Len())
		return idx, nil
	}

	var loadErr *port.IndexLoadError
	if errors.As(err, &loadErr) && loadErr.Stale {
		slog.Warn("persisted index built with another embedding model, rebuilding", "dir", m.cfg.IndexDir, "reason", loadErr.Reason)
	} else {
		slog.Info("no usable persisted index, building", "dir", m.cfg.IndexDir, "reason", err)
	}
	return m.buildLocked(ctx)
}

func (m *Manager) rebuild(ctx context.Context) (*Index, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	return m.buildLocked(ctx)
}

// buildLocked must be called with buildMu held.
func (m *Manager) buildLocked(ctx context.Context) (*Index, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.BuildIndex")
	defer span.End()

	m.mu.Lock()
	m.state = StateBuilding
	m.builds++
	m.mu.Unlock()

	start := time.Now()
	idx, dropped, err := m.buildFromCorpus(ctx)
	if err == nil {
		err = idx.Persist(m.cfg.IndexDir)
	}
	elapsed := time.Since(start)

	if err != nil {
		m.metrics.ObserveIndexBuild(err, elapsed, 0, dropped)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("index build failed", "corpus", m.cfg.CorpusDir, "error", err)

		m.mu.Lock()
		m.lastErr = err
		if m.current.Load() != nil {
			m.state = StateReady
		} else {
			m.state = StateUnbuilt
		}
		m.mu.Unlock()
		return nil, err
	}

	m.metrics.ObserveIndexBuild(nil, elapsed, idx.Len(), dropped)
	span.SetAttributes(attribute.Int("index.entries", idx.Len()), attribute.Int("index.dropped", dropped))
	slog.Info("✅ vector index built",
		"entries", idx.Len(),
		"dropped", dropped,
		"model", idx.ModelID(),
		"duration", elapsed.Round(time.Millisecond),
	)
	m.publish(idx)
	return idx, nil
}

func (m *Manager) publish(idx *Index) {
	m.current.Store(idx)
	m.mu.Lock()
	m.state = StateReady
	m.lastErr = nil
	m.mu.Unlock()
}

// buildFromCorpus runs loader, chunker and embedder. Chunks that fail with
// an EmbeddingError are dropped; any other error aborts the build.
func (m *Manager) buildFromCorpus(ctx context.Context) (*Index, int, error) {
	docs, err := LoadCorpus(ctx, m.cfg.CorpusDir)
	if err != nil {
		return nil, 0, err
	}
	chunks := m.chunker.ChunkAll(docs)
	slog.Info("embedding corpus", "documents", len(docs), "chunks", len(chunks), "model", m.embedder.ModelID())

	entries := make([]domain.IndexEntry, 0, len(chunks))
	dropped := 0
	reportProgress(ctx, 0, len(chunks))
	for start := 0; start < len(chunks); start += m.cfg.BatchSize {
		batch := chunks[start:min(start+m.cfg.BatchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := m.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			for i, c := range batch {
				entries = append(entries, domain.IndexEntry{Chunk: c, Vector: vectors[i]})
			}
			reportProgress(ctx, len(entries)+dropped, len(chunks))
			continue
		}
		if !errors.Is(err, port.ErrEmbedding) {
			return nil, dropped, fmt.Errorf("embed chunks: %w", err)
		}

		// Isolate the offending chunks.
		for _, c := range batch {
			vec, err := m.embedder.Embed(ctx, c.Text)
			if errors.Is(err, port.ErrEmbedding) {
				slog.Warn("dropping chunk", "source", c.SourceID, "chunk_index", c.Index, "error", err)
				dropped++
				continue
			}
			if err != nil {
				return nil, dropped, fmt.Errorf("embed chunk %s#%d: %w", c.SourceID, c.Index, err)
			}
			entries = append(entries, domain.IndexEntry{Chunk: c, Vector: vec})
		}
		reportProgress(ctx, len(entries)+dropped, len(chunks))
	}

	if len(entries) == 0 {
		return nil, dropped, &port.CorpusEmptyError{Root: m.cfg.CorpusDir, Err: errors.New("no chunk could be embedded")}
	}

	idx, err := Build(m.embedder.ModelID(), entries)
	if err != nil {
		return nil, dropped, err
	}
	return idx, dropped, nil
}
