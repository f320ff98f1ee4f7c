package ai

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// DefaultHashingDimension is the vector size used when none is configured.
const DefaultHashingDimension = 384

// HashingEmbedder implements port.Embedder with signed feature hashing of
// word unigrams and bigrams. It needs no model download or network access and
// is a pure function of the text, so vectors are reproducible across runs.
type HashingEmbedder struct {
	dim          int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewHashingEmbedder creates a hashing embedder producing dim-sized vectors.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	return &HashingEmbedder{
		dim:          dim,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’]\p{L}+)*`),
		stopwords:    defaultStopwords(),
	}
}

// ModelID encodes the algorithm version and dimension.
func (h *HashingEmbedder) ModelID() string {
	return fmt.Sprintf("hashing-v1-d%d", h.dim)
}

// Dimension returns the vector size.
func (h *HashingEmbedder) Dimension() int { return h.dim }

// Embed returns the normalized hashed feature vector of text.
func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return h.embed(text, -1)
}

// EmbedBatch embeds each text independently.
func (h *HashingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.embed(t, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashingEmbedder) embed(text string, index int) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &port.EmbeddingError{Index: index, Reason: "empty text"}
	}
	tokens := h.tokenize(text)
	if len(tokens) == 0 {
		return nil, &port.EmbeddingError{Index: index, Reason: "no embeddable tokens"}
	}

	acc := make([]float64, h.dim)
	for i, tok := range tokens {
		h.add(acc, tok, 1)
		if i > 0 {
			h.add(acc, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, &port.EmbeddingError{Index: index, Reason: "features cancel out"}
	}

	vec := make([]float32, h.dim)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec, nil
}

// add folds one feature into its signed bucket; the top hash bit picks the sign.
func (h *HashingEmbedder) add(acc []float64, feature string, weight float64) {
	sum := xxhash.Sum64String(feature)
	bucket := sum % uint64(h.dim)
	if sum>>63 == 1 {
		acc[bucket] -= weight
	} else {
		acc[bucket] += weight
	}
}

func (h *HashingEmbedder) tokenize(text string) []string {
	raw := h.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := h.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about",
		"between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same",
		"too", "very", "can", "will", "just", "should", "now", "what", "which", "who", "do", "does", "i", "my", "me",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
