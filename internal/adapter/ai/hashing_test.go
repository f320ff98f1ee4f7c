package ai

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

func l2(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestHashingEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := NewHashingEmbedder(128)

	a, err := e.Embed(ctx, "High blood pressure is called hypertension.")
	require.NoError(t, err)
	b, err := NewHashingEmbedder(128).Embed(ctx, "High blood pressure is called hypertension.")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
	assert.Equal(t, "hashing-v1-d128", e.ModelID())
}

func TestHashingEmbedder_BatchMatchesScalar(t *testing.T) {
	ctx := context.Background()
	e := NewHashingEmbedder(0)
	texts := []string{
		"Insulin regulates glucose.",
		"Symptoms of dehydration include thirst and dizziness.",
		"Fever",
	}

	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "text %d", i)
	}
}

func TestHashingEmbedder_Normalized(t *testing.T) {
	e := NewHashingEmbedder(64)
	for _, text := range []string{"a b c cough", "Asthma asthma asthma", "Vitamin D 1000 IU", "naïve café allergy"} {
		v, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, l2(v), 1e-6, text)
	}
}

func TestHashingEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	ctx := context.Background()
	e := NewHashingEmbedder(512)

	q, _ := e.Embed(ctx, "what causes high blood pressure")
	near, _ := e.Embed(ctx, "High blood pressure can be caused by salt and stress.")
	far, _ := e.Embed(ctx, "Migraines are headaches with aura.")

	dot := func(a, b []float32) float64 {
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}
	assert.Greater(t, dot(q, near), dot(q, far))
}

func TestHashingEmbedder_Errors(t *testing.T) {
	ctx := context.Background()
	e := NewHashingEmbedder(32)

	_, err := e.Embed(ctx, "   \n\t")
	require.ErrorIs(t, err, port.ErrEmbedding)

	_, err = e.Embed(ctx, "the and of")
	require.ErrorIs(t, err, port.ErrEmbedding, "stopword-only text has no features")

	_, err = e.EmbedBatch(ctx, []string{"fever", "", "cough"})
	var embErr *port.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, 1, embErr.Index)
}
