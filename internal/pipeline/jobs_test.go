package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashHex(t *testing.T) {
	tests := map[string]string{
		"hello world": "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		"":            "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}
	for in, want := range tests {
		assert.Equal(t, want, ContentHashHex([]byte(in)), "%q", in)
	}
	assert.Equal(t, ContentHashHex([]byte("x")), ContentHashHex([]byte("x")))
}

func TestNewJob_Defaults(t *testing.T) {
	job := NewJob("bylaws.pdf", "Bylaws", "", "", []byte("x"))
	require.NotEmpty(t, job.ID)
	require.NotEmpty(t, job.DocID)
	assert.NotEqual(t, job.ID, job.DocID)
	assert.False(t, job.Replace, "a fresh document does not replace")
	assert.Equal(t, StatusQueued, job.Status)
}

func TestNewJob_ExplicitDocIDReplaces(t *testing.T) {
	job := NewJob("a.txt", "Bylaws", "", "doc-7", nil)
	assert.Equal(t, "doc-7", job.DocID)
	assert.True(t, job.Replace)
}

func TestJob_StateTransitions(t *testing.T) {
	job := NewJob("a.txt", "Bylaws", "", "", nil)

	transitions := []struct {
		status JobStatus
		phase  string
	}{
		{StatusParsing, "parsing"},
		{StatusChunking, "chunking"},
		{StatusEmbedding, "embedding"},
		{StatusStoring, "storing"},
		{StatusCompleted, "done"},
	}

	for _, tr := range transitions {
		before := job.UpdatedAt
		time.Sleep(time.Millisecond)
		job.SetStatus(tr.status, tr.phase)

		assert.Equal(t, tr.status, job.Status)
		assert.Equal(t, tr.phase, job.Phase)
		assert.True(t, job.UpdatedAt.After(before), "UpdatedAt advances on %s", tr.status)
	}
}

func TestJobStatus_Done(t *testing.T) {
	for _, s := range []JobStatus{StatusCompleted, StatusFailed, StatusPartial, StatusDupSkipped} {
		assert.True(t, s.Done(), "%s is terminal", s)
	}
	for _, s := range []JobStatus{StatusQueued, StatusParsing, StatusChunking, StatusEmbedding, StatusStoring} {
		assert.False(t, s.Done(), "%s is not terminal", s)
	}
}

func TestJob_Progress(t *testing.T) {
	job := NewJob("a.txt", "Bylaws", "", "", nil)
	job.SetTotalChunks(10)
	job.AddEmbedded(4)
	job.AddEmbedded(6)
	job.SetStored(10)
	job.AddError("boom")

	p := job.Snapshot().Progress
	assert.Equal(t, 10, p.TotalChunks)
	assert.Equal(t, 10, p.ChunksEmbedded)
	assert.Equal(t, 10, p.ChunksStored)
	assert.Equal(t, []string{"boom"}, p.Errors)
}

func TestJob_SnapshotIsolation(t *testing.T) {
	job := NewJob("a.txt", "Bylaws", "", "", nil)
	job.AddError("first")
	snap := job.Snapshot()
	snap.Progress.Errors[0] = "mutated"
	job.AddError("second")

	assert.Equal(t, []string{"first", "second"}, job.Snapshot().Progress.Errors, "snapshot leaked into job")
	assert.Len(t, snap.Progress.Errors, 1, "job leaked into snapshot")
}

func TestJob_SnapshotErrorsNeverNil(t *testing.T) {
	snap := NewJob("a.txt", "Bylaws", "", "", nil).Snapshot()
	assert.NotNil(t, snap.Progress.Errors)
	assert.Empty(t, snap.Progress.Errors)
}

func TestJob_ReleaseFile(t *testing.T) {
	job := NewJob("a.txt", "Bylaws", "", "", []byte("data"))
	require.Equal(t, []byte("data"), job.FileData())
	job.releaseFile()
	assert.Nil(t, job.FileData())
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := NewJob("a.txt", "Bylaws", "", "", nil)
	store.Put(job)
	assert.Same(t, job, store.Get(job.ID))
	assert.Nil(t, store.Get("missing"))
}

func TestJobStore_Cleanup(t *testing.T) {
	store := NewJobStore(time.Minute)
	old := NewJob("old.txt", "Bylaws", "", "", nil)
	old.UpdatedAt = time.Now().Add(-2 * time.Minute)
	fresh := NewJob("new.txt", "Bylaws", "", "", nil)
	store.Put(old)
	store.Put(fresh)

	store.Cleanup()

	assert.Nil(t, store.Get(old.ID), "expired job removed")
	assert.NotNil(t, store.Get(fresh.ID), "fresh job kept")
}
