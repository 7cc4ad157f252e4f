package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docrag/internal/chunker"
	"github.com/dgallion1/docrag/internal/embed"
	"github.com/dgallion1/docrag/internal/tokenizer"
	"github.com/dgallion1/docrag/internal/vectorstore"
)

const bylawsText = "Article I. Name\nThe name of this association is the Example Society.\n" +
	"Article II. Purpose\nThe association promotes the study of examples."

// scriptedEmbedder returns fixed vectors and fails calls listed in errs.
type scriptedEmbedder struct {
	mu    sync.Mutex
	calls int
	errs  map[int]error // 1-based call number -> error
}

func (e *scriptedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.errs[e.calls]
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *scriptedEmbedder) Model() string { return "scripted" }

func newTestWorker(store vectorstore.Store, emb embed.Embedder) *Worker {
	w := NewWorker(store, emb, tokenizer.NewEstimator(), slog.New(slog.DiscardHandler), Config{
		Chunk:              chunker.Config{MaxTokens: 100, OverlapTokens: 10},
		EmbedBatchSize:     1,
		MaxConcurrentEmbed: 1,
	})
	w.backoff = func(int) time.Duration { return 0 }
	return w
}

func TestWorker_ProcessCompleted(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	w := newTestWorker(store, &scriptedEmbedder{})
	job := NewJob("bylaws.txt", "Bylaws", "Society Bylaws", "", []byte(bylawsText))

	w.Process(context.Background(), job)

	snap := job.Snapshot()
	require.Equal(t, StatusCompleted, snap.Status, "errors: %v", snap.Progress.Errors)
	assert.Equal(t, 2, snap.Progress.TotalChunks)
	assert.Equal(t, 2, snap.Progress.ChunksEmbedded)
	assert.Equal(t, 2, snap.Progress.ChunksStored)
	assert.NotEmpty(t, snap.ContentHash)
	assert.Nil(t, job.FileData(), "upload should be released after parsing")

	docs, err := store.ListDocuments(context.Background(), "Bylaws")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, job.DocID, docs[0].DocID)
	assert.Equal(t, "Society Bylaws", docs[0].DocTitle)
	assert.Equal(t, 2, docs[0].Chunks)
}

func TestWorker_ChunkIDsAndHeadings(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	w := newTestWorker(store, &scriptedEmbedder{})
	job := NewJob("bylaws.txt", "Bylaws", "", "", []byte(bylawsText))

	w.Process(context.Background(), job)
	require.Equal(t, StatusCompleted, job.Snapshot().Status)

	hits, err := store.Search(context.Background(), []float32{60, 1}, "Bylaws", 10, -1)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	ids := map[string]bool{}
	for _, h := range hits {
		ids[h.ChunkID] = true
		assert.Equal(t, "bylaws", h.DocTitle)
		assert.Equal(t, 1, h.PageStart)
		require.NotEmpty(t, h.HeadingPath)
	}
	assert.True(t, ids[ChunkID(job.DocID, 0)])
	assert.True(t, ids[ChunkID(job.DocID, 1)])
}

func TestWorker_DuplicateSkipped(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	emb := &scriptedEmbedder{}
	w := newTestWorker(store, emb)

	first := NewJob("bylaws.txt", "Bylaws", "", "", []byte(bylawsText))
	w.Process(context.Background(), first)
	require.Equal(t, StatusCompleted, first.Snapshot().Status)
	callsAfterFirst := emb.calls

	second := NewJob("copy.txt", "Bylaws", "", "", []byte(bylawsText))
	w.Process(context.Background(), second)

	assert.Equal(t, StatusDupSkipped, second.Snapshot().Status)
	assert.Equal(t, callsAfterFirst, emb.calls, "duplicate should not be embedded")
}

func TestWorker_ReplaceDeletesPreviousChunks(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	w := newTestWorker(store, &scriptedEmbedder{})

	first := NewJob("bylaws.txt", "Bylaws", "", "", []byte(bylawsText))
	w.Process(context.Background(), first)
	require.Equal(t, StatusCompleted, first.Snapshot().Status)

	revised := NewJob("bylaws.txt", "Bylaws", "", first.DocID, []byte("Article I. Name\nRenamed."))
	w.Process(context.Background(), revised)
	require.Equal(t, StatusCompleted, revised.Snapshot().Status)

	docs, err := store.ListDocuments(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 1, docs[0].Chunks)
	assert.Equal(t, revised.Snapshot().ContentHash, docs[0].ContentHash)
}

func TestWorker_RetriesTransientEmbedError(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	emb := &scriptedEmbedder{errs: map[int]error{1: &embed.RetryableError{StatusCode: 503}}}
	w := newTestWorker(store, emb)
	job := NewJob("bylaws.txt", "Bylaws", "", "", []byte(bylawsText))

	w.Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Empty(t, snap.Progress.Errors)
	assert.Equal(t, 3, emb.calls)
}

func TestWorker_PartialOnBatchFailure(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	emb := &scriptedEmbedder{errs: map[int]error{2: errors.New("bad input")}}
	w := newTestWorker(store, emb)
	job := NewJob("bylaws.txt", "Bylaws", "", "", []byte(bylawsText))

	w.Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusPartial, snap.Status)
	assert.Equal(t, 1, snap.Progress.ChunksEmbedded)
	assert.Equal(t, 1, snap.Progress.ChunksStored)
	assert.Len(t, snap.Progress.Errors, 1)
}

func TestWorker_FailsWhenNothingEmbeds(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	boom := errors.New("model missing")
	emb := &scriptedEmbedder{errs: map[int]error{1: boom, 2: boom}}
	w := newTestWorker(store, emb)
	job := NewJob("bylaws.txt", "Bylaws", "", "", []byte(bylawsText))

	w.Process(context.Background(), job)

	assert.Equal(t, StatusFailed, job.Snapshot().Status)
	docs, err := store.ListDocuments(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestWorker_UnsupportedFormat(t *testing.T) {
	w := newTestWorker(vectorstore.NewMemoryStore(), &scriptedEmbedder{})
	job := NewJob("sheet.xlsx", "Bylaws", "", "", []byte("x"))

	w.Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "parsing", snap.Phase)
	assert.NotEmpty(t, snap.Progress.Errors)
}

func TestWorker_EmptyDocumentFails(t *testing.T) {
	w := newTestWorker(vectorstore.NewMemoryStore(), &scriptedEmbedder{})
	job := NewJob("blank.txt", "Bylaws", "", "", []byte("   \n\n"))

	w.Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "chunking", snap.Phase)
}

// brokenStore fails every write after the document was first stored.
type brokenStore struct {
	*vectorstore.MemoryStore
	err error
}

func (s brokenStore) Upsert(ctx context.Context, records []vectorstore.Record) error {
	return s.err
}

func (s brokenStore) ReplaceDocument(ctx context.Context, docID string, records []vectorstore.Record) (int64, error) {
	return 0, s.err
}

func ingestBylaws(t *testing.T, store *vectorstore.MemoryStore) *Job {
	t.Helper()
	job := NewJob("bylaws.txt", "Bylaws", "", "", []byte(bylawsText))
	newTestWorker(store, &scriptedEmbedder{}).Process(context.Background(), job)
	require.Equal(t, StatusCompleted, job.Snapshot().Status)
	return job
}

func TestWorker_ReplaceStoreFailureKeepsPreviousVersion(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	first := ingestBylaws(t, store)

	w := newTestWorker(brokenStore{MemoryStore: store, err: errors.New("connection reset")}, &scriptedEmbedder{})
	revised := NewJob("bylaws.txt", "Bylaws", "", first.DocID, []byte("Article I. Name\nRenamed."))
	w.Process(context.Background(), revised)

	snap := revised.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "storing", snap.Phase)
	require.NotEmpty(t, snap.Progress.Errors)
	assert.Contains(t, snap.Progress.Errors[0], "connection reset")

	docs, err := store.ListDocuments(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 2, docs[0].Chunks)
	assert.Equal(t, first.Snapshot().ContentHash, docs[0].ContentHash)
}

func TestWorker_PartialReplacementKeepsPreviousVersion(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	first := ingestBylaws(t, store)

	emb := &scriptedEmbedder{errs: map[int]error{2: errors.New("bad input")}}
	revisedText := "Article I. Name\nThe name is now the Revised Society.\n" +
		"Article II. Purpose\nThe association studies revisions."
	revised := NewJob("bylaws.txt", "Bylaws", "", first.DocID, []byte(revisedText))
	newTestWorker(store, emb).Process(context.Background(), revised)

	snap := revised.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "embedding", snap.Phase)
	assert.Equal(t, 0, snap.Progress.ChunksStored)

	docs, err := store.ListDocuments(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 2, docs[0].Chunks)
	assert.Equal(t, first.Snapshot().ContentHash, docs[0].ContentHash)
}

func TestWorker_UpsertFailureFailsJob(t *testing.T) {
	w := newTestWorker(brokenStore{MemoryStore: vectorstore.NewMemoryStore(), err: errors.New("disk full")}, &scriptedEmbedder{})
	job := NewJob("bylaws.txt", "Bylaws", "", "", []byte(bylawsText))

	w.Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "storing", snap.Phase)
}
