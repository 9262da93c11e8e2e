package alerts

import (
	"sync"
	"time"

	"clinical-scribe-service/internal/clock"
	"clinical-scribe-service/internal/models"
)

// Reasons a toast leaves the queue.
const (
	RemovedExpired   = "expired"
	RemovedDismissed = "dismissed"
)

// ToastListener is told when toasts appear and disappear. Calls are
// serialized in queue order.
type ToastListener interface {
	AlertShown(a models.Alert)
	AlertRemoved(r models.AlertRemoved)
}

// ToastQueue holds at most max visible alerts in insertion order. Each
// toast expires ttl after it became visible unless dismissed first. Pushes
// onto a full queue wait in FIFO order until a slot frees.
type ToastQueue struct {
	clock    clock.Clock
	ttl      time.Duration
	max      int
	listener ToastListener

	mu     sync.Mutex
	emitMu sync.Mutex
	toasts []*toast
	queued []models.Alert
	closed bool
}

type toast struct {
	alert models.Alert
	timer clock.Timer
}

// NewToastQueue creates a queue. Non-positive ttl or max select 10s and 3.
func NewToastQueue(clk clock.Clock, ttl time.Duration, max int, l ToastListener) *ToastQueue {
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if max <= 0 {
		max = 3
	}
	return &ToastQueue{clock: clk, ttl: ttl, max: max, listener: l}
}

type toastEvent struct {
	shown   *models.Alert
	removed *models.AlertRemoved
}

func (q *ToastQueue) unlockAndDispatch(evs []toastEvent) {
	q.emitMu.Lock()
	q.mu.Unlock()
	defer q.emitMu.Unlock()
	if q.listener == nil {
		return
	}
	for _, ev := range evs {
		if ev.shown != nil {
			q.listener.AlertShown(*ev.shown)
		} else {
			q.listener.AlertRemoved(*ev.removed)
		}
	}
}

// Push shows a, or queues it behind the visible toasts when max are
// already shown. It returns false if the queue is closed or a toast with the
// same ID is visible or waiting.
func (q *ToastQueue) Push(a models.Alert) bool {
	q.mu.Lock()
	if q.closed || q.indexLocked(a.ID) >= 0 || q.queuedLocked(a.ID) >= 0 {
		q.mu.Unlock()
		return false
	}

	var evs []toastEvent
	if len(q.toasts) >= q.max {
		q.queued = append(q.queued, a)
	} else {
		evs = append(evs, q.showLocked(a))
	}
	q.unlockAndDispatch(evs)
	return true
}

func (q *ToastQueue) showLocked(a models.Alert) toastEvent {
	id := a.ID
	t := &toast{alert: a}
	t.timer = q.clock.AfterFunc(q.ttl, func() { q.remove(id, RemovedExpired) })
	q.toasts = append(q.toasts, t)
	return toastEvent{shown: &a}
}

// Dismiss removes a visible or waiting toast. It reports whether one was
// removed. Waiting toasts were never shown, so the listener hears nothing.
func (q *ToastQueue) Dismiss(id string) bool {
	return q.remove(id, RemovedDismissed)
}

func (q *ToastQueue) remove(id, reason string) bool {
	q.mu.Lock()
	i := q.indexLocked(id)
	if i < 0 {
		if j := q.queuedLocked(id); j >= 0 && reason == RemovedDismissed {
			q.queued = append(q.queued[:j:j], q.queued[j+1:]...)
			q.mu.Unlock()
			return true
		}
		q.mu.Unlock()
		return false
	}
	t := q.toasts[i]
	t.timer.Stop()
	q.toasts = append(q.toasts[:i:i], q.toasts[i+1:]...)
	evs := []toastEvent{{removed: &models.AlertRemoved{AlertID: id, Reason: reason}}}
	for len(q.toasts) < q.max && len(q.queued) > 0 {
		next := q.queued[0]
		q.queued = q.queued[1:]
		evs = append(evs, q.showLocked(next))
	}
	q.unlockAndDispatch(evs)
	return true
}

func (q *ToastQueue) queuedLocked(id string) int {
	for i, a := range q.queued {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (q *ToastQueue) indexLocked(id string) int {
	for i, t := range q.toasts {
		if t.alert.ID == id {
			return i
		}
	}
	return -1
}

// Visible returns the visible alerts, oldest first.
func (q *ToastQueue) Visible() []models.Alert {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.Alert, len(q.toasts))
	for i, t := range q.toasts {
		out[i] = t.alert
	}
	return out
}

func (q *ToastQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.toasts)
}

// Waiting returns the number of toasts queued behind the visible ones.
func (q *ToastQueue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

// Close cancels every expiry timer and drops the visible and waiting toasts
// without notifying the listener. Later pushes are ignored.
func (q *ToastQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.toasts {
		t.timer.Stop()
	}
	q.toasts = nil
	q.queued = nil
	q.closed = true
}
