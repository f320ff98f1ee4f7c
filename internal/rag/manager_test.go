package rag

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

var testCorpus = map[string]string{
	"diabetes.txt":     "Diabetes is a chronic condition where blood glucose levels are too high. Insulin helps regulate glucose.",
	"hypertension.txt": "Hypertension means persistently elevated blood pressure in the arteries.",
	"asthma.txt":       "Asthma inflames the airways and can make breathing difficult.",
}

func TestManager_ConcurrentFirstUseBuildsOnce(t *testing.T) {
	emb := &letterEmbedder{delay: 20 * time.Millisecond}
	m, dir := newTestManager(t, writeCorpus(t, testCorpus), emb)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*Index, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.Index(context.Background())
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	st := m.Status()
	assert.Equal(t, 1, st.Builds)
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, results[0].Len(), st.Entries)
	assert.FileExists(t, filepath.Join(dir, ManifestFile))
}

func TestManager_LoadsPersistedIndex(t *testing.T) {
	corpus := writeCorpus(t, testCorpus)
	first, dir := newTestManager(t, corpus, &letterEmbedder{})
	built, err := first.Index(context.Background())
	require.NoError(t, err)

	chunker, err := NewChunker(40, 10)
	require.NoError(t, err)
	second := NewManager(ManagerConfig{CorpusDir: corpus, IndexDir: dir}, &letterEmbedder{}, chunker, nil)
	loaded, err := second.Index(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, second.Status().Builds, "a valid persisted index is loaded, not rebuilt")
	assert.Equal(t, built.Entries(), loaded.Entries())
}

func TestManager_StaleIndexIsRebuilt(t *testing.T) {
	corpus := writeCorpus(t, testCorpus)
	first, dir := newTestManager(t, corpus, &letterEmbedder{model: "letters-v1"})
	_, err := first.Index(context.Background())
	require.NoError(t, err)

	chunker, err := NewChunker(40, 10)
	require.NoError(t, err)
	second := NewManager(ManagerConfig{CorpusDir: corpus, IndexDir: dir}, &letterEmbedder{model: "letters-v2"}, chunker, nil)
	idx, err := second.Index(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, second.Status().Builds)
	assert.Equal(t, "letters-v2", idx.ModelID())
}

func TestManager_EmptyCorpus(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir(), &letterEmbedder{})

	_, err := m.Index(context.Background())
	require.ErrorIs(t, err, port.ErrCorpusEmpty)

	st := m.Status()
	assert.Equal(t, StateUnbuilt, st.State)
	assert.NotEmpty(t, st.LastError)
}

func TestManager_FailedRebuildKeepsPreviousIndex(t *testing.T) {
	corpus := writeCorpus(t, testCorpus)
	m, dir := newTestManager(t, corpus, &letterEmbedder{})
	before, err := m.Index(context.Background())
	require.NoError(t, err)

	manifest, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	vectors, err := os.ReadFile(filepath.Join(dir, VectorsFile))
	require.NoError(t, err)

	for name := range testCorpus {
		require.NoError(t, os.Remove(filepath.Join(corpus, name)))
	}

	_, err = m.Rebuild(context.Background())
	require.ErrorIs(t, err, port.ErrCorpusEmpty)

	after, err := m.Index(context.Background())
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.Equal(t, StateReady, m.Status().State)

	gotManifest, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	gotVectors, err := os.ReadFile(filepath.Join(dir, VectorsFile))
	require.NoError(t, err)
	assert.Equal(t, manifest, gotManifest)
	assert.Equal(t, vectors, gotVectors)
}

func TestManager_RebuildSwapsIndex(t *testing.T) {
	corpus := writeCorpus(t, testCorpus)
	m, _ := newTestManager(t, corpus, &letterEmbedder{})
	before, err := m.Index(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(corpus, "migraine.txt"), []byte("Migraine headaches can cause throbbing pain and sensitivity to light."), 0o644))

	after, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Greater(t, after.Len(), before.Len())

	current, err := m.Index(context.Background())
	require.NoError(t, err)
	assert.Same(t, after, current)
	assert.Equal(t, 2, m.Status().Builds)
}

func TestManager_DropsChunksThatFailToEmbed(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{
		"good.txt": "Vaccines train the immune system.",
		"bad.txt":  "#bad",
	})
	emb := &letterEmbedder{}
	m, _ := newTestManager(t, corpus, emb)

	idx, err := m.Index(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())
	assert.Equal(t, "good.txt", idx.Entries()[0].Chunk.SourceID)
}

func TestManager_AllChunksFailIsCorpusEmpty(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{"bad.txt": "#bad"})
	m, _ := newTestManager(t, corpus, &letterEmbedder{})

	_, err := m.Index(context.Background())
	assert.ErrorIs(t, err, port.ErrCorpusEmpty)
}

func TestManager_CallerCancellationDoesNotAbortBuild(t *testing.T) {
	emb := &letterEmbedder{delay: 50 * time.Millisecond}
	m, _ := newTestManager(t, writeCorpus(t, testCorpus), emb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Index(ctx)
	require.ErrorIs(t, err, context.Canceled)

	idx, err := m.Index(context.Background())
	require.NoError(t, err)
	assert.Positive(t, idx.Len())
	assert.Equal(t, 1, m.Status().Builds)
}

func TestManager_RebuildReportsProgress(t *testing.T) {
	m, _ := newTestManager(t, writeCorpus(t, testCorpus), &letterEmbedder{})

	var mu sync.Mutex
	var seen [][2]int
	ctx := WithProgress(context.Background(), func(done, total int) {
		mu.Lock()
		seen = append(seen, [2]int{done, total})
		mu.Unlock()
	})

	idx, err := m.Rebuild(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 0, seen[0][0])
	last := seen[len(seen)-1]
	assert.Equal(t, last[1], last[0])
	assert.Equal(t, idx.Len(), last[0])
}
