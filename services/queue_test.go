package services

import (
	"testing"
	"time"

	"media-downloader-go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue() (*JobQueue, *ProgressBus) {
	bus := NewProgressBus()
	return NewJobQueue(bus), bus
}

func TestAddDownloadJobCanStart(t *testing.T) {
	q, _ := newTestQueue()

	first, canStart := q.AddDownloadJob("https://example.com/a", "22")
	assert.True(t, canStart)

	second, canStart := q.AddDownloadJob("https://example.com/b", "18")
	assert.False(t, canStart)
	assert.NotEqual(t, first, second)

	state := q.GetQueueState()
	assert.Equal(t, []string{first, second}, state.Queue)
	assert.Nil(t, state.Processing)
	assert.Equal(t, 2, state.Counts[models.JobQueued])
}

func TestStartJobOnlyHead(t *testing.T) {
	q, _ := newTestQueue()

	first, _ := q.AddDownloadJob("https://example.com/a", "22")
	second, _ := q.AddDownloadJob("https://example.com/b", "18")

	assert.False(t, q.StartJob(second, "dl-2"), "non-head job must not start")
	require.True(t, q.StartJob(first, "dl-1"))
	assert.False(t, q.StartJob(first, "dl-1"), "a started job must not start twice")

	state := q.GetQueueState()
	require.NotNil(t, state.Processing)
	assert.Equal(t, first, *state.Processing)

	job, ok := q.GetJob(first)
	require.True(t, ok)
	assert.Equal(t, models.JobDownloading, job.Status)
	assert.Equal(t, "dl-1", job.DownloadID)
	assert.NotNil(t, job.StartedAt)
}

func TestSingleActiveJobInvariant(t *testing.T) {
	q, _ := newTestQueue()

	first, _ := q.AddDownloadJob("https://example.com/a", "22")
	second, _ := q.AddDownloadJob("https://example.com/b", "18")

	require.True(t, q.StartJob(first, "dl-1"))
	assert.False(t, q.StartJob(second, "dl-2"), "second job must wait for the active slot")

	q.CompleteJob(first)
	assert.True(t, q.StartJob(second, "dl-2"))

	job, _ := q.GetJob(first)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
}

func TestConvertJobUnknownDependency(t *testing.T) {
	q, _ := newTestQueue()

	_, _, err := q.AddConvertJob("https://example.com/a", "mp3", "no-such-job")
	assert.ErrorIs(t, err, ErrUnknownDependency)

	// A convert job cannot depend on another convert job
	conv, _, err := q.AddConvertJob("https://example.com/a", "mp3", "")
	require.NoError(t, err)
	_, _, err = q.AddConvertJob("https://example.com/a", "aac", conv)
	assert.ErrorIs(t, err, ErrUnknownDependency)
}

func TestConvertJobDependencyGating(t *testing.T) {
	q, _ := newTestQueue()

	dl, _ := q.AddDownloadJob("https://example.com/a", "22")
	require.True(t, q.StartJob(dl, "dl-1"))

	conv, canStart, err := q.AddConvertJob("https://example.com/a", "mp3", dl)
	require.NoError(t, err)
	assert.False(t, canStart)

	// Download is active, dependency not yet satisfied
	assert.False(t, q.StartJob(conv, "dl-2"))

	q.CompleteJob(dl)
	assert.True(t, q.StartJob(conv, "dl-2"))

	job, _ := q.GetJob(conv)
	assert.Equal(t, models.JobConverting, job.Status)
}

func TestFailJobCascadesToDependents(t *testing.T) {
	q, _ := newTestQueue()

	dl, _ := q.AddDownloadJob("https://example.com/a", "22")
	conv, _, err := q.AddConvertJob("https://example.com/a", "mp3", dl)
	require.NoError(t, err)
	other, _ := q.AddDownloadJob("https://example.com/b", "18")

	require.True(t, q.StartJob(dl, "dl-1"))
	q.FailJob(dl, "network error")

	job, _ := q.GetJob(dl)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, "network error", job.Error)

	dep, _ := q.GetJob(conv)
	assert.Equal(t, models.JobFailed, dep.Status)
	assert.Equal(t, "Dependency failed: network error", dep.Error)

	// An unrelated queued job survives and becomes the head
	assert.True(t, q.StartJob(other, "dl-3"))
}

func TestCancelQueuedJob(t *testing.T) {
	q, _ := newTestQueue()

	first, _ := q.AddDownloadJob("https://example.com/a", "22")
	second, _ := q.AddDownloadJob("https://example.com/b", "18")

	require.NoError(t, q.CancelJob(second))

	job, _ := q.GetJob(second)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, CancelledByUser, job.Error)

	state := q.GetQueueState()
	assert.Equal(t, []string{first}, state.Queue)

	// Cancelling a terminal job is a no-op
	assert.NoError(t, q.CancelJob(second))
	assert.ErrorIs(t, q.CancelJob("missing"), ErrJobNotFound)
}

func TestCancelActiveJobCancelsSession(t *testing.T) {
	q, bus := newTestQueue()

	dl, _ := q.AddDownloadJob("https://example.com/a", "22")
	require.True(t, q.StartJob(dl, "dl-1"))

	bus.CreateSession("https://example.com/a", "22", "dl-1")
	cleaned := make(chan struct{})
	bus.RegisterCleanup("dl-1", func() { close(cleaned) })

	require.NoError(t, q.CancelJob(dl))

	job, _ := q.GetJob(dl)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, CancelledByUser, job.Error)

	select {
	case <-cleaned:
	case <-time.After(2 * time.Second):
		t.Fatal("session cleanup was not invoked")
	}
	snap := bus.GetProgress("dl-1")
	require.NotNil(t, snap)
	assert.Equal(t, models.SessionCancelled, snap.Status)
}

func TestMirrorProgressIntoJob(t *testing.T) {
	q, bus := newTestQueue()

	dl, _ := q.AddDownloadJob("https://example.com/a", "22")
	require.True(t, q.StartJob(dl, "dl-1"))

	bus.CreateSession("https://example.com/a", "22", "dl-1")
	bus.SetTotal("dl-1", 1000)
	bus.UpdateProgress("dl-1", 500)

	job, _ := q.GetJob(dl)
	require.NotNil(t, job.Progress)
	assert.Equal(t, int64(500), job.Progress.Bytes)
	require.NotNil(t, job.Progress.Percentage)
	assert.Equal(t, 50, *job.Progress.Percentage)

	bus.MarkCompleted("dl-1")
	job, _ = q.GetJob(dl)
	assert.Equal(t, models.JobCompleted, job.Status)
}

func TestMirrorErrorFailsJob(t *testing.T) {
	q, bus := newTestQueue()

	dl, _ := q.AddDownloadJob("https://example.com/a", "22")
	require.True(t, q.StartJob(dl, "dl-1"))
	bus.CreateSession("https://example.com/a", "22", "dl-1")

	bus.MarkError("dl-1", "extractor exited with status 1")

	job, _ := q.GetJob(dl)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, "extractor exited with status 1", job.Error)

	state := q.GetQueueState()
	assert.Nil(t, state.Processing, "active slot must clear on failure")
}

func TestDisconnectErrorIsNotOverwrittenByCancel(t *testing.T) {
	q, bus := newTestQueue()

	dl, _ := q.AddDownloadJob("https://example.com/a", "22")
	require.True(t, q.StartJob(dl, "dl-1"))
	bus.CreateSession("https://example.com/a", "22", "dl-1")

	// The edge records the disconnect first, then tears down the session
	q.FailJob(dl, "Client disconnected")
	bus.Cancel("dl-1")

	job, _ := q.GetJob(dl)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, "Client disconnected", job.Error)
}

func TestSubscribeSeededSnapshot(t *testing.T) {
	q, _ := newTestQueue()
	dl, _ := q.AddDownloadJob("https://example.com/a", "22")

	ch, unsubscribe := q.Subscribe()
	defer unsubscribe()

	select {
	case state := <-ch:
		assert.Equal(t, []string{dl}, state.Queue)
	case <-time.After(time.Second):
		t.Fatal("no seeded snapshot")
	}

	require.True(t, q.StartJob(dl, "dl-1"))

	deadline := time.After(time.Second)
	for {
		select {
		case state := <-ch:
			if state.Processing != nil {
				assert.Equal(t, dl, *state.Processing)
				return
			}
		case <-deadline:
			t.Fatal("no snapshot with an active job")
		}
	}
}

func TestQueueSweep(t *testing.T) {
	q, _ := newTestQueue()

	done, _ := q.AddDownloadJob("https://example.com/a", "22")
	pending, _ := q.AddDownloadJob("https://example.com/b", "18")

	require.True(t, q.StartJob(done, "dl-1"))
	q.CompleteJob(done)

	// Age the terminal job past the retention window
	q.mu.Lock()
	old := time.Now().Add(-time.Hour)
	q.jobs[done].CompletedAt = &old
	q.mu.Unlock()

	q.Sweep()

	_, ok := q.GetJob(done)
	assert.False(t, ok)
	_, ok = q.GetJob(pending)
	assert.True(t, ok)

	// The swept id must not wedge the queue
	assert.True(t, q.StartJob(pending, "dl-2"))
}
