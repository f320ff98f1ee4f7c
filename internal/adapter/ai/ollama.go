package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// OllamaEndpointConfig holds the configuration for a single Ollama endpoint.
type OllamaEndpointConfig struct {
	BaseURL string // e.g. http://localhost:11434 or https://ollama.com
	Model   string // e.g. all-minilm, llama3.1
	Token   string // Bearer token for Ollama Cloud (empty = no auth)
}

// OllamaProvider implements port.Embedder and port.Generator using the
// Ollama REST API, with separate endpoints for embeddings and chat.
type OllamaProvider struct {
	embed       OllamaEndpointConfig
	chat        OllamaEndpointConfig
	timeout     time.Duration
	batchEmbed  bool
	concurrency int
	httpClient  *http.Client
}

// OllamaOption configures an OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithBatchEmbedding sends a whole EmbedBatch in one /api/embed request.
// The server may batch the inputs through the model together, so results
// can differ from Embed in the last bits.
func WithBatchEmbedding() OllamaOption {
	return func(o *OllamaProvider) { o.batchEmbed = true }
}

// WithEmbedConcurrency bounds the parallel requests of EmbedBatch when it
// embeds one text per request. Default 4.
func WithEmbedConcurrency(n int) OllamaOption {
	return func(o *OllamaProvider) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// NewOllamaProvider creates an Ollama-backed provider. timeout bounds each
// embedding request and each generation call; zero means no client-side bound.
func NewOllamaProvider(embed, chat OllamaEndpointConfig, timeout time.Duration, opts ...OllamaOption) *OllamaProvider {
	o := &OllamaProvider{
		embed:       embed,
		chat:        chat,
		timeout:     timeout,
		concurrency: 4,
		httpClient:  &http.Client{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ModelID identifies the embedding model.
func (o *OllamaProvider) ModelID() string {
	return "ollama:" + o.embed.Model
}

// Embed generates a normalized vector embedding for text.
func (o *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &port.EmbeddingError{Index: -1, Reason: "empty text"}
	}
	return o.embedOne(ctx, text, -1)
}

func (o *OllamaProvider) embedOne(ctx context.Context, text string, index int) ([]float32, error) {
	vectors, err := o.embedRequest(ctx, text, 1)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	return normalize(vectors[0], index)
}

// EmbedBatch embeds texts. By default each text is its own request, so
// EmbedBatch(xs)[i] equals Embed(xs[i]); see WithBatchEmbedding.
func (o *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, &port.EmbeddingError{Index: i, Reason: "empty text"}
		}
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))
	if !o.batchEmbed {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.concurrency)
		for i, t := range texts {
			g.Go(func() error {
				v, err := o.embedOne(gctx, t, i)
				out[i] = v
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}

	vectors, err := o.embedRequest(ctx, texts, len(texts))
	if err != nil {
		return nil, fmt.Errorf("ollama embed batch: %w", err)
	}
	for i, v := range vectors {
		if out[i], err = normalize(v, i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (o *OllamaProvider) embedRequest(ctx context.Context, input any, want int) ([][]float32, error) {
	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	payload := map[string]any{
		"model": o.embed.Model,
		"input": input,
	}

	body, err := o.post(callCtx, o.embed, "/api/embed", payload)
	if err != nil {
		return nil, classifyCallError(ctx, err)
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(resp.Embeddings) != want {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), want)
	}
	return resp.Embeddings, nil
}

// Generate sends prompt as a single user message to /api/chat. An empty
// modelID falls back to the configured chat model.
func (o *OllamaProvider) Generate(ctx context.Context, prompt, modelID string, temperature float64) (string, error) {
	if modelID == "" {
		modelID = o.chat.Model
	}

	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	payload := map[string]any{
		"model":    modelID,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
		"stream":   false,
		"options":  map[string]any{"temperature": temperature},
	}

	body, err := o.post(callCtx, o.chat, "/api/chat", payload)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", classifyCallError(ctx, err))
	}

	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &port.FatalError{Err: fmt.Errorf("ollama chat decode: %w", err)}
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", &port.FatalError{Err: fmt.Errorf("ollama chat: empty completion from %s", modelID)}
	}
	return resp.Message.Content, nil
}

// post is a helper for POST requests to an Ollama endpoint (with optional bearer token).
// Non-200 responses are classified by status code.
func (o *OllamaProvider) post(ctx context.Context, cfg OllamaEndpointConfig, path string, payload any) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(cfg.BaseURL, "/")+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, port.ClassifyStatus(resp.StatusCode, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	return io.ReadAll(resp.Body)
}

func normalize(v []float32, index int) ([]float32, error) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, &port.EmbeddingError{Index: index, Reason: "model returned a zero or non-finite vector"}
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}
