package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinical-scribe-service/internal/clock"
	"clinical-scribe-service/internal/models"
	"clinical-scribe-service/internal/observability/logging"
	"clinical-scribe-service/internal/observability/metrics"
)

// Trigger evaluates transcript updates off the transcription path. Updates
// that arrive while an evaluation runs are coalesced into one follow-up
// evaluation of the latest text. Each alert ID is shown at most once for
// the trigger's lifetime.
type Trigger struct {
	eval    Evaluator
	toasts  *ToastQueue
	notify  func(models.Notification)
	timeout time.Duration
	clock   clock.Clock
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu       sync.Mutex
	seen     map[string]struct{}
	latest   string
	degraded bool
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
}

// NewTrigger starts the evaluation worker. notify may be nil. A
// non-positive timeout selects 10s per evaluation.
func NewTrigger(eval Evaluator, toasts *ToastQueue, notify func(models.Notification), clk clock.Clock, timeout time.Duration) *Trigger {
	if notify == nil {
		notify = func(models.Notification) {}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Trigger{
		eval:    eval,
		toasts:  toasts,
		notify:  notify,
		timeout: timeout,
		clock:   clk,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("alert-trigger"),
		seen:    make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

// OnTranscriptUpdate schedules an evaluation of text. It never blocks.
func (t *Trigger) OnTranscriptUpdate(text string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.latest = text
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Trigger) run() {
	defer close(t.done)
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.wake:
		}
		t.mu.Lock()
		text := t.latest
		t.mu.Unlock()

		if err := t.EvaluateNow(t.ctx, text); err != nil && t.ctx.Err() == nil {
			t.log.Debug().Err(err).Msg("Alert evaluation failed")
		}
	}
}

// EvaluateNow evaluates text synchronously and pushes any new alerts.
// Failures are logged and reported through a single notification until an
// evaluation succeeds again.
func (t *Trigger) EvaluateNow(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	found, err := t.safeEvaluate(ctx, text)
	t.metrics.RecordAlertEvaluation(err, time.Since(start).Seconds())

	if err != nil {
		t.mu.Lock()
		first := !t.degraded && !t.closed
		t.degraded = true
		t.mu.Unlock()

		t.log.Warn().Err(err).Msg("Alert evaluation failed")
		if first {
			t.notify(models.Notification{
				Level:     models.LevelWarn,
				Code:      models.CodeAlertsUnavailable,
				Message:   "Alerts temporarily unavailable",
				Retryable: false,
			})
		}
		return err
	}

	var fresh []models.Alert
	t.mu.Lock()
	t.degraded = false
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	for _, a := range found {
		if a.ID == "" {
			continue
		}
		if _, ok := t.seen[a.ID]; ok {
			t.metrics.RecordAlertSuppressed()
			continue
		}
		t.seen[a.ID] = struct{}{}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = t.clock.Now()
		}
		fresh = append(fresh, a)
	}
	t.mu.Unlock()

	for _, a := range fresh {
		if t.toasts.Push(a) {
			t.metrics.RecordAlert(string(a.Severity))
			t.log.Info().Str("alertId", a.ID).Str("severity", string(a.Severity)).Msg("Alert raised")
		}
	}
	return nil
}

func (t *Trigger) safeEvaluate(ctx context.Context, text string) (alerts []models.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("alert evaluator panicked: %v", r)
		}
	}()
	return t.eval.Evaluate(ctx, text)
}

// Seen reports whether the alert ID has already fired.
func (t *Trigger) Seen(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[id]
	return ok
}

// Close stops the worker and waits for an in-flight evaluation to end.
func (t *Trigger) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	<-t.done
}
