package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"media-downloader-go/config"
	"media-downloader-go/models"
)

// Scheduler errors surfaced to the HTTP edge
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrUnknownDependency = errors.New("depends_on does not reference an existing download job")
)

// CancelledByUser is the error recorded on user-initiated cancellation
const CancelledByUser = "Cancelled by user"

// snapshotBuffer bounds each queue-state subscriber
const snapshotBuffer = 8

// JobQueue admits download and convert jobs, enforces the single-active-job
// invariant, resolves cross-job dependencies and always drains the queue
// after terminal transitions.
//
// Lock order: JobQueue methods never call into the ProgressBus while holding
// the mutex; the bus observer calls back in under its own lock.
type JobQueue struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	order  []string // FIFO of queued job ids
	active string   // at most one job in downloading/converting
	bus    *ProgressBus
	subs   map[chan models.QueueState]struct{}
}

// NewJobQueue creates a scheduler wired to the progress bus for cancellation
// and progress mirroring.
func NewJobQueue(bus *ProgressBus) *JobQueue {
	q := &JobQueue{
		jobs: make(map[string]*models.Job),
		subs: make(map[chan models.QueueState]struct{}),
		bus:  bus,
	}
	if bus != nil {
		bus.SetObserver(q.mirrorProgress)
	}
	return q
}

// AddDownloadJob admits a download job. canStart reports whether the caller
// may start it immediately.
func (q *JobQueue) AddDownloadJob(url, formatID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.drainLocked()

	job := &models.Job{
		JobID:     NewID(),
		Kind:      models.JobDownload,
		URL:       url,
		FormatID:  formatID,
		Status:    models.JobQueued,
		CreatedAt: time.Now(),
	}
	q.jobs[job.JobID] = job
	q.order = append(q.order, job.JobID)

	log.Printf("[Queue] Added download job %s\n", job.JobID)
	q.emitLocked()
	return job.JobID, q.startableLocked(job.JobID)
}

// AddConvertJob admits a convert job, optionally dependent on a completed
// download job.
func (q *JobQueue) AddConvertJob(url, targetFormat, dependsOn string) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.drainLocked()

	if dependsOn != "" {
		dep, ok := q.jobs[dependsOn]
		if !ok || dep.Kind != models.JobDownload {
			return "", false, ErrUnknownDependency
		}
	}

	job := &models.Job{
		JobID:        NewID(),
		Kind:         models.JobConvert,
		URL:          url,
		TargetFormat: targetFormat,
		DependsOn:    dependsOn,
		Status:       models.JobQueued,
		CreatedAt:    time.Now(),
	}
	q.jobs[job.JobID] = job
	q.order = append(q.order, job.JobID)

	log.Printf("[Queue] Added convert job %s (depends on %q)\n", job.JobID, dependsOn)
	q.emitLocked()
	return job.JobID, q.startableLocked(job.JobID), nil
}

// StartJob atomically claims the active slot for the queue head. Returns
// false (changing nothing) when another job is active, the job is not the
// head, or its dependency has not completed.
func (q *JobQueue) StartJob(jobID, downloadID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.startableLocked(jobID) {
		return false
	}

	job := q.jobs[jobID]
	q.order = q.order[1:]
	q.active = jobID

	now := time.Now()
	job.StartedAt = &now
	job.DownloadID = downloadID
	if job.Kind == models.JobConvert {
		job.Status = models.JobConverting
	} else {
		job.Status = models.JobDownloading
	}

	log.Printf("[Queue] Started job %s (download %s)\n", jobID, downloadID)
	q.emitLocked()
	return true
}

// CompleteJob transitions a job to completed and drains the queue
func (q *JobQueue) CompleteJob(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.drainLocked()
	q.finishLocked(jobID, models.JobCompleted, "")
}

// FailJob transitions a job to failed, cascade-failing queued dependents,
// and drains the queue.
func (q *JobQueue) FailJob(jobID, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.drainLocked()
	q.finishLocked(jobID, models.JobFailed, errMsg)
}

// CancelJob cancels a queued or active job. Active jobs have their session
// cancelled, which terminates the subprocess.
func (q *JobQueue) CancelJob(jobID string) error {
	q.mu.Lock()

	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if models.IsTerminalJobStatus(job.Status) {
		q.mu.Unlock()
		return nil
	}

	downloadID := job.DownloadID
	q.finishLocked(jobID, models.JobFailed, CancelledByUser)
	q.drainLocked()
	q.mu.Unlock()

	// Terminate the child outside the lock; the resulting bus events
	// re-enter through the observer, where the terminal mark is a no-op.
	if downloadID != "" && q.bus != nil {
		q.bus.Cancel(downloadID)
	}
	return nil
}

// GetJob returns a copy of the job
func (q *JobQueue) GetJob(jobID string) (models.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

// GetQueueState returns the current snapshot
func (q *JobQueue) GetQueueState() models.QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Subscribe returns a queue-state stream seeded with the current snapshot
func (q *JobQueue) Subscribe() (<-chan models.QueueState, func()) {
	ch := make(chan models.QueueState, snapshotBuffer)

	q.mu.Lock()
	q.subs[ch] = struct{}{}
	ch <- q.snapshotLocked()
	q.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.subs, ch)
			q.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

// Sweep removes terminal jobs past the retention window
func (q *JobQueue) Sweep() {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, job := range q.jobs {
		if models.IsTerminalJobStatus(job.Status) && job.CompletedAt != nil &&
			time.Since(*job.CompletedAt) > config.MaxTerminalAge {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[Queue] Swept %d terminal jobs\n", removed)
		q.emitLocked()
	}
}

// mirrorProgress is the bus observer: it copies session progress into the
// owning job and triggers terminal transitions when the session ends.
// Runs on the bus goroutine; must not call back into the bus.
func (q *JobQueue) mirrorProgress(event models.ProgressEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.drainLocked()

	var job *models.Job
	for _, j := range q.jobs {
		if j.DownloadID != "" && j.DownloadID == event.DownloadID {
			job = j
			break
		}
	}
	if job == nil {
		return
	}

	job.Progress = &models.Progress{
		Bytes:      event.Bytes,
		Total:      event.Total,
		Percentage: event.Percentage,
	}

	switch event.Status {
	case models.SessionCompleted:
		q.finishLocked(job.JobID, models.JobCompleted, "")
	case models.SessionError:
		q.finishLocked(job.JobID, models.JobFailed, event.Error)
	case models.SessionCancelled:
		q.finishLocked(job.JobID, models.JobFailed, CancelledByUser)
	default:
		q.emitLocked()
	}
}

// startableLocked reports whether jobID is the idle queue head with its
// dependency (if any) completed.
func (q *JobQueue) startableLocked(jobID string) bool {
	if q.active != "" || len(q.order) == 0 || q.order[0] != jobID {
		return false
	}
	job, ok := q.jobs[jobID]
	if !ok || job.Status != models.JobQueued {
		return false
	}
	return q.dependencySatisfiedLocked(job)
}

func (q *JobQueue) dependencySatisfiedLocked(job *models.Job) bool {
	if job.DependsOn == "" {
		return true
	}
	dep, ok := q.jobs[job.DependsOn]
	return ok && dep.Status == models.JobCompleted
}

// finishLocked performs a terminal transition. Repeated terminal transitions
// are ignored; the active slot is always cleared.
func (q *JobQueue) finishLocked(jobID, status, errMsg string) {
	job, ok := q.jobs[jobID]
	if !ok || models.IsTerminalJobStatus(job.Status) {
		if q.active == jobID {
			q.active = ""
		}
		return
	}

	now := time.Now()
	job.Status = status
	job.CompletedAt = &now
	job.Error = errMsg

	if q.active == jobID {
		q.active = ""
	}
	q.removeFromOrderLocked(jobID)

	if status == models.JobFailed {
		log.Printf("[Queue] Job %s failed: %s\n", jobID, errMsg)
		q.cascadeFailLocked(jobID, errMsg)
	} else {
		log.Printf("[Queue] Job %s completed\n", jobID)
	}

	q.emitLocked()
}

// cascadeFailLocked fails every queued dependent of a failed download job
func (q *JobQueue) cascadeFailLocked(failedID, errMsg string) {
	for _, job := range q.jobs {
		if job.DependsOn == failedID && job.Status == models.JobQueued {
			q.finishLocked(job.JobID, models.JobFailed, fmt.Sprintf("Dependency failed: %s", errMsg))
		}
	}
}

// drainLocked advances the queue after a mutation. It never pops a head
// whose dependency is unmet: the head re-examines when the dependency
// completes. The actual start happens when the HTTP edge calls StartJob.
func (q *JobQueue) drainLocked() {
	if q.active != "" {
		return
	}

	for len(q.order) > 0 {
		head, ok := q.jobs[q.order[0]]
		if !ok {
			// Stale id left behind by a swept job
			q.order = q.order[1:]
			continue
		}
		if !q.dependencySatisfiedLocked(head) {
			q.emitLocked()
			return
		}
		q.emitLocked()
		return
	}
}

func (q *JobQueue) removeFromOrderLocked(jobID string) {
	for i, id := range q.order {
		if id == jobID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

func (q *JobQueue) snapshotLocked() models.QueueState {
	state := models.QueueState{
		Jobs:   make([]models.Job, 0, len(q.jobs)),
		Queue:  append([]string(nil), q.order...),
		Counts: make(map[string]int),
	}
	for _, job := range q.jobs {
		state.Jobs = append(state.Jobs, *job)
		state.Counts[job.Status]++
	}
	if q.active != "" {
		active := q.active
		state.Processing = &active
	}
	return state
}

// emitLocked publishes the snapshot to subscribers without blocking on
// slow consumers.
func (q *JobQueue) emitLocked() {
	if len(q.subs) == 0 {
		return
	}
	state := q.snapshotLocked()
	for ch := range q.subs {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}
