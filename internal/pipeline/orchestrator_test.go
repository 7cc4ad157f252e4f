package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docrag/internal/chunker"
	"github.com/dgallion1/docrag/internal/tokenizer"
	"github.com/dgallion1/docrag/internal/vectorstore"
)

func testConfig(queue int) Config {
	return Config{
		WorkerCount:        2,
		MaxQueueSize:       queue,
		JobTTL:             time.Hour,
		Chunk:              chunker.Config{MaxTokens: 100, OverlapTokens: 10},
		EmbedBatchSize:     10,
		MaxConcurrentEmbed: 2,
	}
}

func TestOrchestrator_ProcessesSubmittedJob(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	o := NewOrchestrator(testConfig(4), store, &scriptedEmbedder{}, tokenizer.NewEstimator(), slog.New(slog.DiscardHandler))
	o.Start(context.Background())
	defer o.Stop()

	job := NewJob("bylaws.txt", "Bylaws", "", "", []byte(bylawsText))
	require.NoError(t, o.Submit(job))
	require.Same(t, job, o.GetJob(job.ID))

	require.Eventually(t, func() bool {
		return job.Snapshot().Status.Done()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusCompleted, job.Snapshot().Status)
}

func TestOrchestrator_QueueFull(t *testing.T) {
	// Not started, so nothing drains the queue.
	o := NewOrchestrator(testConfig(1), vectorstore.NewMemoryStore(), &scriptedEmbedder{}, tokenizer.NewEstimator(), slog.New(slog.DiscardHandler))

	require.NoError(t, o.Submit(NewJob("a.txt", "Bylaws", "", "", []byte("a"))))
	assert.Equal(t, 1, o.QueueDepth())

	overflow := NewJob("b.txt", "Bylaws", "", "", []byte("b"))
	err := o.Submit(overflow)
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, StatusFailed, overflow.Snapshot().Status)
}
