package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	require.NoError(t, m.Upsert(context.Background(), []Record{
		{ChunkID: "a1", DocID: "a", DocTitle: "Alpha", Folder: "Resolutions", Text: "alpha", ContentHash: "ha", Embedding: []float32{1, 0}},
		{ChunkID: "a2", DocID: "a", DocTitle: "Alpha", Folder: "Resolutions", Text: "alpha two", ContentHash: "ha", Embedding: []float32{0.8, 0.6}},
		{ChunkID: "b1", DocID: "b", DocTitle: "Beta", Folder: "Board and Committee Proceedings", Text: "beta", ContentHash: "hb", Embedding: []float32{0, 1}},
	}))
	return m
}

func TestMemoryStore_Search(t *testing.T) {
	m := seed(t)

	got, err := m.Search(context.Background(), []float32{1, 0}, "", 10, 0.1)
	require.NoError(t, err)
	require.Len(t, got, 2, "b1 is orthogonal and below threshold")
	assert.Equal(t, "a1", got[0].ChunkID)
	assert.InDelta(t, 1.0, got[0].VectorScore, 1e-9)
	assert.InDelta(t, 0.8, got[1].VectorScore, 1e-6)

	got, err = m.Search(context.Background(), []float32{0, 1}, "Board and Committee Proceedings", 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b1", got[0].ChunkID)

	got, err = m.Search(context.Background(), []float32{1, 0}, "", 1, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryStore_UpsertReplaces(t *testing.T) {
	m := seed(t)
	require.NoError(t, m.Upsert(context.Background(), []Record{
		{ChunkID: "a1", DocID: "a", DocTitle: "Alpha v2", Folder: "Resolutions", Embedding: []float32{1, 0}},
	}))
	got, err := m.Search(context.Background(), []float32{1, 0}, "Resolutions", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "Alpha v2", got[0].DocTitle)
}

func TestMemoryStore_DocumentsAndHashes(t *testing.T) {
	m := seed(t)
	ctx := context.Background()

	docs, err := m.ListDocuments(ctx, "")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Alpha", docs[0].DocTitle)
	assert.Equal(t, 2, docs[0].Chunks)

	ok, err := m.HasContentHash(ctx, "hb")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := m.DeleteDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, err = m.HasContentHash(ctx, "ha")
	require.NoError(t, err)
	assert.False(t, ok)

	docs, err = m.ListDocuments(ctx, "Resolutions")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

type stubEmbedder struct {
	vec []float32
	err error
}

func (s stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func (s stubEmbedder) Model() string { return "stub" }

func TestSearcher_VectorSearch(t *testing.T) {
	s := &Searcher{Store: seed(t), Embedder: stubEmbedder{vec: []float32{0, 1}}, Threshold: 0.5}

	got, err := s.VectorSearch(context.Background(), "beta", "", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b1", got[0].ChunkID)
	assert.Equal(t, "a2", got[1].ChunkID)
}

func TestSearcher_EmbedFailure(t *testing.T) {
	boom := errors.New("embedder offline")
	s := &Searcher{Store: seed(t), Embedder: stubEmbedder{err: boom}}

	_, err := s.VectorSearch(context.Background(), "q", "", 5)
	assert.ErrorIs(t, err, boom)
}

func TestMemoryStore_ReplaceDocument(t *testing.T) {
	m := seed(t)
	ctx := context.Background()

	n, err := m.ReplaceDocument(ctx, "a", []Record{
		{ChunkID: "a9", DocID: "a", DocTitle: "Alpha v2", Folder: "Resolutions", ContentHash: "ha2", Embedding: []float32{1, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	docs, err := m.ListDocuments(ctx, "Resolutions")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Alpha v2", docs[0].DocTitle)
	assert.Equal(t, 1, docs[0].Chunks)
	assert.Equal(t, "ha2", docs[0].ContentHash)

	ok, err := m.HasContentHash(ctx, "hb")
	require.NoError(t, err)
	assert.True(t, ok, "other documents are untouched")
}

func TestMemoryStore_ReplaceDocumentCanceled(t *testing.T) {
	m := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ReplaceDocument(ctx, "a", nil)
	require.ErrorIs(t, err, context.Canceled)
	docs, err := m.ListDocuments(context.Background(), "Resolutions")
	require.NoError(t, err)
	assert.Equal(t, 2, docs[0].Chunks)
}
