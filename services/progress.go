package services

import (
	"log"
	"math"
	"sync"
	"time"

	"media-downloader-go/config"
	"media-downloader-go/models"

	"github.com/dustin/go-humanize"
)

// subscriberBuffer bounds each subscriber's channel; full buffers coalesce
// progress events rather than stall the producer
const subscriberBuffer = 16

type session struct {
	models.SessionSnapshot
	cleanup    func()
	terminalAt time.Time
}

// ProgressBus is the process-wide registry of download sessions plus a
// publish/subscribe fan-out of progress events.
type ProgressBus struct {
	mu       sync.Mutex
	sessions map[string]*session
	subs     map[string]map[chan models.ProgressEvent]struct{}
	observer func(models.ProgressEvent)
}

// NewProgressBus creates an empty bus
func NewProgressBus() *ProgressBus {
	return &ProgressBus{
		sessions: make(map[string]*session),
		subs:     make(map[string]map[chan models.ProgressEvent]struct{}),
	}
}

// SetObserver registers a callback invoked for every published event.
// The scheduler uses it to mirror session progress into jobs. The callback
// runs under the bus lock and must not call back into the bus.
func (b *ProgressBus) SetObserver(fn func(models.ProgressEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = fn
}

// CreateSession registers a download session. Idempotent: an existing id is
// returned untouched. An empty id generates a fresh one.
func (b *ProgressBus) CreateSession(url, formatID, id string) string {
	if id == "" {
		id = NewID()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[id]; ok {
		return id
	}

	b.sessions[id] = &session{
		SessionSnapshot: models.SessionSnapshot{
			DownloadID: id,
			URL:        url,
			FormatID:   formatID,
			Status:     models.SessionDownloading,
			CreatedAt:  time.Now(),
		},
	}
	return id
}

// RegisterCleanup attaches the subprocess kill closure to a session so
// cancellation can terminate the children.
func (b *ProgressBus) RegisterCleanup(id string, cleanup func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		s.cleanup = cleanup
	}
}

// UpdateProgress records transferred bytes and publishes a progress event.
// Bytes are expected to be monotone non-decreasing; stale updates and
// updates on terminal sessions are ignored.
func (b *ProgressBus) UpdateProgress(id string, bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[id]
	if !ok || models.IsTerminalSessionStatus(s.Status) || bytes < s.Bytes {
		return
	}

	s.Bytes = bytes
	s.recomputePercentage()
	b.publishLocked(s)
}

// SetTotal records the total byte count learned from the extractor's
// progress output.
func (b *ProgressBus) SetTotal(id string, total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[id]
	if !ok || models.IsTerminalSessionStatus(s.Status) || total <= 0 {
		return
	}

	s.Total = &total
	s.recomputePercentage()
	b.publishLocked(s)
}

// MarkCompleted transitions a session to completed. A second terminal mark
// is a no-op: the same subprocess can report both "exit" and "close".
func (b *ProgressBus) MarkCompleted(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[id]
	if !ok || models.IsTerminalSessionStatus(s.Status) {
		return
	}

	s.Status = models.SessionCompleted
	s.terminalAt = time.Now()
	if s.Total == nil && s.Bytes > 0 {
		total := s.Bytes
		s.Total = &total
	}
	s.recomputePercentage()
	log.Printf("[Progress %s] Completed (%s)\n", id, humanize.Bytes(uint64(s.Bytes)))
	b.publishLocked(s)
}

// MarkError transitions a session to error. Idempotent like MarkCompleted.
func (b *ProgressBus) MarkError(id, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[id]
	if !ok || models.IsTerminalSessionStatus(s.Status) {
		return
	}

	s.Status = models.SessionError
	s.Error = msg
	s.terminalAt = time.Now()
	log.Printf("[Progress %s] Error: %s\n", id, msg)
	b.publishLocked(s)
}

// Cancel terminates the session's children (graceful then hard), marks it
// cancelled and schedules its removal. Returns false for unknown ids.
func (b *ProgressBus) Cancel(id string) bool {
	b.mu.Lock()

	s, ok := b.sessions[id]
	if !ok {
		b.mu.Unlock()
		return false
	}

	cleanup := s.cleanup
	if !models.IsTerminalSessionStatus(s.Status) {
		s.Status = models.SessionCancelled
		s.terminalAt = time.Now()
		b.publishLocked(s)
	}
	b.mu.Unlock()

	if cleanup != nil {
		go cleanup()
	}

	time.AfterFunc(config.SessionRemoveGrace, func() {
		b.remove(id)
	})
	return true
}

// GetProgress returns a snapshot of the session, or nil when unknown
func (b *ProgressBus) GetProgress(id string) *models.SessionSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[id]
	if !ok {
		return nil
	}
	snapshot := s.SessionSnapshot
	return &snapshot
}

// Subscribe returns a buffered event stream for a download id and an
// unsubscribe function. Subscribing before the session exists is allowed.
func (b *ProgressBus) Subscribe(id string) (<-chan models.ProgressEvent, func()) {
	ch := make(chan models.ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subs[id] == nil {
		b.subs[id] = make(map[chan models.ProgressEvent]struct{})
	}
	b.subs[id][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[id], ch)
			if len(b.subs[id]) == 0 {
				delete(b.subs, id)
			}
			b.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

// Sweep removes terminal sessions older than the retention window.
// Active sessions are never collected.
func (b *ProgressBus) Sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, s := range b.sessions {
		if models.IsTerminalSessionStatus(s.Status) && time.Since(s.terminalAt) > config.MaxTerminalAge {
			delete(b.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[Progress] Swept %d terminal sessions\n", removed)
	}
}

func (b *ProgressBus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}

// publishLocked fans the session's current state out to subscribers and the
// observer. Caller holds b.mu, so at most one publish is in flight; making
// room below therefore cannot race with another producer.
func (b *ProgressBus) publishLocked(s *session) {
	event := models.ProgressEvent{
		Type:       "progress",
		DownloadID: s.DownloadID,
		Bytes:      s.Bytes,
		Total:      s.Total,
		Percentage: s.Percentage,
		Status:     s.Status,
		Error:      s.Error,
	}

	for ch := range b.subs[s.DownloadID] {
		select {
		case ch <- event:
		default:
			// Full buffer: coalesce by dropping the oldest queued event.
			// Terminal events always land because the slot just freed.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}

	if b.observer != nil {
		b.observer(event)
	}
}

func (s *session) recomputePercentage() {
	if s.Total == nil || *s.Total <= 0 {
		return
	}
	pct := int(math.Round(100 * float64(s.Bytes) / float64(*s.Total)))
	if pct > 100 {
		pct = 100
	}
	if s.Percentage == nil || pct > *s.Percentage {
		s.Percentage = &pct
	}
}
