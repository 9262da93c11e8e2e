package drafts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinical-scribe-service/internal/clock"
	"clinical-scribe-service/internal/observability/logging"
	"clinical-scribe-service/internal/observability/metrics"
)

const writeTimeout = 5 * time.Second

// Autosaver debounces transcript changes into a Store. Only the most
// recent text is written.
type Autosaver struct {
	store    Store
	id       string
	clock    clock.Clock
	debounce time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	timer   clock.Timer
	pending *string
	stopped bool
}

// NewAutosaver saves to store under id. A non-positive debounce selects
// 500ms.
func NewAutosaver(store Store, id string, clk clock.Clock, debounce time.Duration) *Autosaver {
	if clk == nil {
		clk = clock.Real()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Autosaver{
		store:    store,
		id:       id,
		clock:    clk,
		debounce: debounce,
		metrics:  metrics.DefaultMetrics,
		log:      logging.WithComponent("draft-autosave").With().Str("draftId", id).Logger(),
	}
}

func (a *Autosaver) ID() string { return a.id }

// Schedule records text and restarts the debounce window.
func (a *Autosaver) Schedule(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.pending = &text
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = a.clock.AfterFunc(a.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := a.write(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Draft autosave failed")
		}
	})
}

// Flush writes any pending text now.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	return a.write(ctx)
}

// write snapshots pending under writeMu so concurrent writers persist in
// the order they took the snapshot.
func (a *Autosaver) write(ctx context.Context) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	text := a.pending
	a.pending = nil
	a.mu.Unlock()
	if text == nil {
		return nil
	}

	err := a.store.Save(ctx, a.id, Draft{TranscriptText: *text, UpdatedAt: a.clock.Now()})
	a.metrics.RecordDraftWrite("save", err)
	if err != nil {
		a.mu.Lock()
		if a.pending == nil && !a.stopped {
			a.pending = text
		}
		a.mu.Unlock()
		return err
	}
	a.log.Debug().Int("chars", len(*text)).Msg("Draft saved")
	return nil
}

// Stop cancels the debounce timer and drops pending text.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.pending = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Clear stops autosaving and deletes the stored draft.
func (a *Autosaver) Clear(ctx context.Context) error {
	a.Stop()
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	err := a.store.Delete(ctx, a.id)
	a.metrics.RecordDraftWrite("delete", err)
	return err
}

// Recover loads the stored draft text for id, or "" when none exists.
func Recover(ctx context.Context, s Store, id string) (string, error) {
	d, err := s.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return d.TranscriptText, nil
}
