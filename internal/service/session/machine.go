package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinical-scribe-service/internal/clock"
	"clinical-scribe-service/internal/models"
	"clinical-scribe-service/internal/observability/logging"
	"clinical-scribe-service/internal/observability/metrics"
	"clinical-scribe-service/internal/service/capture"
	"clinical-scribe-service/internal/service/stt"
	"clinical-scribe-service/internal/service/transcript"
)

// Observer receives session output. Calls are serialized in the order the
// underlying changes happened. Observers must not call mutating Machine
// methods synchronously.
type Observer interface {
	StatusChanged(runID string, from, to Status)
	Partial(text string, speaker *int)
	TranscriptUpdated(text string)
	Notify(n models.Notification)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) StatusChanged(string, Status, Status) {}
func (NopObserver) Partial(string, *int)                 {}
func (NopObserver) TranscriptUpdated(string)             {}
func (NopObserver) Notify(models.Notification)           {}

// Config holds the session timing and recognition options.
type Config struct {
	Options           stt.Options
	ChunkInterval     time.Duration
	KeepAliveInterval time.Duration
	ReconnectBackoff  time.Duration
	// DeviceLostGrace is how long a session whose audio device went away
	// stays paused before it is stopped.
	DeviceLostGrace time.Duration
}

// DefaultConfig returns the standard cadence: 250ms chunks, 5s keep-alive
// and a 2s reconnect backoff.
func DefaultConfig() Config {
	return Config{
		Options:           stt.DefaultOptions(),
		ChunkInterval:     250 * time.Millisecond,
		KeepAliveInterval: 5 * time.Second,
		ReconnectBackoff:  2 * time.Second,
		DeviceLostGrace:   30 * time.Second,
	}
}

// Machine owns one panel's capture stream and recognition connection.
type Machine struct {
	panelID  string
	capture  *capture.Adapter
	dialer   stt.Dialer
	buffer   *transcript.Buffer
	observer Observer
	clock    clock.Clock
	cfg      Config
	gen      *Generator
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu         sync.Mutex
	emitMu     sync.Mutex
	status     Status
	starting   bool
	abortStart bool
	hidden     bool
	run        *run
}

// run is the resource set of a single Start..Stop span.
type run struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	stream  *capture.Stream
	started time.Time

	conn      stt.Connection
	connOpen  bool
	reopening bool
	reconnect clock.Timer
	grace     clock.Timer
}

// NewMachine creates an idle machine. A nil observer or clock is replaced
// by a no-op observer and the real clock.
func NewMachine(panelID string, c *capture.Adapter, d stt.Dialer, buf *transcript.Buffer, obs Observer, clk clock.Clock, cfg Config) *Machine {
	if obs == nil {
		obs = NopObserver{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	def := DefaultConfig()
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = def.ChunkInterval
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = def.KeepAliveInterval
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = def.ReconnectBackoff
	}
	if cfg.DeviceLostGrace <= 0 {
		cfg.DeviceLostGrace = def.DeviceLostGrace
	}
	return &Machine{
		panelID:  panelID,
		capture:  c,
		dialer:   d,
		buffer:   buf,
		observer: obs,
		clock:    clk,
		cfg:      cfg,
		gen:      NewGenerator(),
		metrics:  metrics.DefaultMetrics,
		log:      logging.WithProvider(panelID, d.Name()),
		status:   StatusIdle,
	}
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// RunID returns the active run ID, or "" when no resources are held.
func (m *Machine) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run == nil {
		return ""
	}
	return m.run.id
}

// Holding reports whether capture and connection resources are held.
func (m *Machine) Holding() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run != nil
}

// Connected reports whether the recognition connection is open.
func (m *Machine) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run != nil && m.run.conn != nil && m.run.connOpen
}

// Hidden reports the last visibility set with SetHidden.
func (m *Machine) Hidden() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hidden
}

// Transcript returns the buffer the machine appends finals to.
func (m *Machine) Transcript() *transcript.Buffer {
	return m.buffer
}

type pending []func(Observer)

// unlockAndDispatch releases mu and delivers p. emitMu is taken before mu
// is released so deliveries keep the order of the state changes.
func (m *Machine) unlockAndDispatch(p pending) {
	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()
	for _, f := range p {
		f(m.observer)
	}
}

func (m *Machine) transitionLocked(cmd Command, p *pending) error {
	from := m.status
	to, err := Next(from, cmd)
	if err != nil {
		return err
	}
	if to == from {
		return nil
	}
	m.status = to
	runID := ""
	if m.run != nil {
		runID = m.run.id
	}
	m.metrics.RecordTransition(from.String(), to.String())
	m.log.Info().Str("runId", runID).Str("from", from.String()).Str("to", to.String()).Str("cmd", cmd.String()).Msg("Session status changed")
	*p = append(*p, func(o Observer) { o.StatusChanged(runID, from, to) })
	return nil
}

func notify(p *pending, n models.Notification) {
	*p = append(*p, func(o Observer) { o.Notify(n) })
}

// Start acquires audio and opens the recognition connection. It is a no-op
// while a session is already recording, reconnecting, or starting.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.status {
	case StatusRecording, StatusReconnecting:
		m.mu.Unlock()
		return nil
	case StatusPaused:
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	if m.starting {
		m.mu.Unlock()
		return nil
	}
	m.starting = true
	m.abortStart = false
	m.mu.Unlock()

	stream, conn, err := m.acquire(ctx)

	m.mu.Lock()
	m.starting = false
	if err != nil {
		var p pending
		notify(&p, startFailure(err))
		m.unlockAndDispatch(p)
		return err
	}
	if m.abortStart {
		m.mu.Unlock()
		m.discard(conn, "session stopped during start")
		m.capture.Release(stream)
		return ErrStopped
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:      m.gen.Next(m.panelID),
		ctx:     runCtx,
		cancel:  cancel,
		stream:  stream,
		started: m.clock.Now(),
		conn:    conn,
	}
	m.run = r

	var p pending
	_ = m.transitionLocked(CmdStart, &p)

	chunk := m.clock.NewTicker(m.cfg.ChunkInterval)
	keep := m.clock.NewTicker(m.cfg.KeepAliveInterval)
	go m.pump(r, chunk, keep)
	go m.listen(r, conn)

	m.metrics.RecordSessionStart()
	m.unlockAndDispatch(p)
	return nil
}

func (m *Machine) acquire(ctx context.Context) (*capture.Stream, stt.Connection, error) {
	stream, err := m.capture.Acquire(ctx)
	if err != nil {
		reason := "device_unavailable"
		if errors.Is(err, capture.ErrPermissionDenied) {
			reason = "permission_denied"
		}
		m.metrics.RecordStartFailed(reason)
		m.log.Warn().Err(err).Msg("Audio acquisition failed")
		return nil, nil, err
	}

	conn, err := m.dialer.Open(ctx, m.cfg.Options)
	if err != nil {
		m.capture.Release(stream)
		m.metrics.RecordStartFailed("connection")
		m.log.Warn().Err(err).Msg("Recognition connection failed")
		return nil, nil, err
	}
	return stream, conn, nil
}

func startFailure(err error) models.Notification {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return models.Notification{Level: models.LevelError, Code: models.CodeMicPermissionDenied, Message: "Microphone access was denied. Allow access and try again.", Retryable: true}
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return models.Notification{Level: models.LevelError, Code: models.CodeMicUnavailable, Message: "No microphone is available.", Retryable: true}
	default:
		return models.Notification{Level: models.LevelError, Code: models.CodeConnectionFailed, Message: "Could not connect to the transcription service.", Retryable: true}
	}
}

// Pause suspends capture and keeps the connection alive. A pending
// reconnection is cancelled.
func (m *Machine) Pause() error {
	m.mu.Lock()
	if m.status == StatusPaused {
		m.mu.Unlock()
		return nil
	}
	var p pending
	if err := m.transitionLocked(CmdPause, &p); err != nil {
		m.mu.Unlock()
		return err
	}
	r := m.run
	r.stream.Pause()
	if r.reconnect != nil {
		r.reconnect.Stop()
		r.reconnect = nil
	}
	m.unlockAndDispatch(p)
	return nil
}

// Resume restarts capture. If the connection ended while paused it is
// reopened first; if the capture device went away the stream is acquired
// again. A failed re-acquire leaves the session paused.
func (m *Machine) Resume(ctx context.Context) error {
	m.mu.Lock()
	switch m.status {
	case StatusRecording:
		m.mu.Unlock()
		return nil
	case StatusPaused:
	default:
		_, err := Next(m.status, CmdResume)
		m.mu.Unlock()
		return err
	}

	r := m.run
	needStream := !r.stream.Live()
	needConn := r.conn == nil
	if !needStream && !needConn {
		var p pending
		m.resumeLocked(r, &p)
		m.unlockAndDispatch(p)
		return nil
	}
	if r.reopening {
		m.mu.Unlock()
		return nil
	}
	r.reopening = true
	m.mu.Unlock()

	var (
		stream *capture.Stream
		conn   stt.Connection
		err    error
	)
	if needStream {
		stream, err = m.capture.Acquire(ctx)
		if err != nil {
			m.log.Warn().Err(err).Str("runId", r.id).Msg("Audio re-acquire on resume failed")
		}
	}
	streamErr := err
	if err == nil && needConn {
		conn, err = m.dialer.Open(ctx, m.cfg.Options)
	}

	m.mu.Lock()
	r.reopening = false
	if m.run != r || m.status != StatusPaused {
		m.mu.Unlock()
		if conn != nil {
			m.discard(conn, "session ended during resume")
		}
		m.capture.Release(stream)
		return ErrStopped
	}

	var p pending
	if streamErr != nil {
		notify(&p, startFailure(streamErr))
		m.unlockAndDispatch(p)
		return streamErr
	}
	if err != nil {
		m.log.Warn().Err(err).Str("runId", r.id).Msg("Reopen on resume failed")
		notify(&p, models.Notification{Level: models.LevelError, Code: models.CodeConnectionLost, Message: "Transcription connection lost. Start recording again.", Retryable: true})
		teardown := m.detachLocked(CmdFail, &p)
		m.unlockAndDispatch(p)
		m.capture.Release(stream)
		teardown()
		return err
	}

	var stale *capture.Stream
	if stream != nil {
		stale, r.stream = r.stream, stream
	}
	if conn != nil {
		r.conn = conn
		r.connOpen = false
		go m.listen(r, conn)
	}
	m.resumeLocked(r, &p)
	m.unlockAndDispatch(p)
	m.capture.Release(stale)
	return nil
}

func (m *Machine) resumeLocked(r *run, p *pending) {
	if r.grace != nil {
		r.grace.Stop()
		r.grace = nil
	}
	r.stream.Resume()
	_ = m.transitionLocked(CmdResume, p)
}

// DeviceLost reacts to the capture device going away under a held stream.
// A recording session is paused; a session that is still paused when the
// grace period ends is stopped. Resume acquires the device again.
func (m *Machine) DeviceLost() {
	m.mu.Lock()
	r := m.run
	if r == nil {
		m.mu.Unlock()
		return
	}
	var p pending
	if m.status != StatusPaused {
		if err := m.transitionLocked(CmdPause, &p); err != nil {
			m.mu.Unlock()
			return
		}
		r.stream.Pause()
		if r.reconnect != nil {
			r.reconnect.Stop()
			r.reconnect = nil
		}
	}
	if r.grace == nil {
		r.grace = m.clock.AfterFunc(m.cfg.DeviceLostGrace, func() { m.deviceGone(r) })
	}
	m.log.Info().Str("runId", r.id).Dur("grace", m.cfg.DeviceLostGrace).Msg("Audio device lost, session paused")
	notify(&p, models.Notification{Level: models.LevelWarn, Code: models.CodeMicUnavailable, Message: "Microphone disconnected. Recording is paused.", Retryable: true})
	m.unlockAndDispatch(p)
}

func (m *Machine) deviceGone(r *run) {
	m.mu.Lock()
	if m.run != r || r.grace == nil || m.status != StatusPaused {
		m.mu.Unlock()
		return
	}
	r.grace = nil
	m.log.Info().Str("runId", r.id).Msg("Audio device did not return, stopping session")
	var p pending
	teardown := m.detachLocked(CmdStop, &p)
	m.unlockAndDispatch(p)
	teardown()
}

// Stop releases every resource and moves to Stopped. Concurrent and
// repeated calls tear down exactly once.
func (m *Machine) Stop() {
	m.mu.Lock()
	if m.starting {
		m.abortStart = true
	}
	if m.status == StatusStopped {
		m.mu.Unlock()
		return
	}
	var p pending
	teardown := m.detachLocked(CmdStop, &p)
	m.unlockAndDispatch(p)
	teardown()
}

// SetHidden records panel visibility. Becoming hidden while recording
// pauses the session; becoming visible again does not resume it.
func (m *Machine) SetHidden(hidden bool) {
	m.mu.Lock()
	m.hidden = hidden
	recording := m.status == StatusRecording
	m.mu.Unlock()

	if hidden && recording {
		m.log.Info().Msg("Panel hidden while recording, pausing")
		_ = m.Pause()
	}
}

// detachLocked applies cmd, unhooks the current run, and returns the
// teardown to run after mu is released.
func (m *Machine) detachLocked(cmd Command, p *pending) func() {
	_ = m.transitionLocked(cmd, p)
	r := m.run
	m.run = nil
	if r == nil {
		return func() {}
	}
	if r.reconnect != nil {
		r.reconnect.Stop()
		r.reconnect = nil
	}
	if r.grace != nil {
		r.grace.Stop()
		r.grace = nil
	}
	conn := r.conn
	r.conn = nil
	r.connOpen = false
	return func() {
		r.cancel()
		if conn != nil {
			if err := conn.Close(stt.CloseNormal, "session stopped"); err != nil {
				m.log.Debug().Err(err).Str("runId", r.id).Msg("Connection close failed")
			}
		}
		m.capture.Release(r.stream)
		m.metrics.RecordSessionEnd(m.clock.Now().Sub(r.started).Seconds())
		m.log.Info().Str("runId", r.id).Msg("Session resources released")
	}
}

// discard closes a connection nobody listens to and drains its events.
func (m *Machine) discard(conn stt.Connection, reason string) {
	_ = conn.Close(stt.CloseNormal, reason)
	go func() {
		for range conn.Events() {
		}
	}()
}

func (m *Machine) pump(r *run, chunk, keep clock.Ticker) {
	defer chunk.Stop()
	defer keep.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-chunk.C():
			m.forward(r)
		case <-keep.C():
			m.keepAlive(r)
		}
	}
}

// forward sends buffered audio while recording on an open connection.
// During reconnection audio stays buffered in the stream.
func (m *Machine) forward(r *run) {
	m.mu.Lock()
	if m.run != r || m.status != StatusRecording || r.conn == nil || !r.connOpen {
		m.mu.Unlock()
		return
	}
	conn := r.conn
	m.mu.Unlock()

	data := r.stream.Drain()
	if len(data) == 0 {
		return
	}
	if err := conn.SendAudio(r.ctx, data); err != nil {
		m.metrics.RecordAudioDropped("send_failed", len(data))
		m.log.Debug().Err(err).Str("runId", r.id).Msg("Audio chunk not sent")
		return
	}
	m.metrics.RecordAudioSent(len(data))
}

func (m *Machine) keepAlive(r *run) {
	m.mu.Lock()
	if m.run != r || r.conn == nil || !r.connOpen {
		m.mu.Unlock()
		return
	}
	conn := r.conn
	m.mu.Unlock()

	if err := conn.KeepAlive(r.ctx); err != nil {
		m.log.Debug().Err(err).Str("runId", r.id).Msg("Keep-alive failed")
		return
	}
	m.metrics.RecordKeepAlive()
}

// listen consumes conn's events until the channel closes. Events from a
// connection that is no longer current are ignored.
func (m *Machine) listen(r *run, conn stt.Connection) {
	for ev := range conn.Events() {
		m.handle(r, conn, ev)
	}
}

func (m *Machine) handle(r *run, conn stt.Connection, ev stt.Event) {
	m.mu.Lock()
	if m.run != r || r.conn != conn {
		m.mu.Unlock()
		return
	}

	var p pending
	switch ev.Kind {
	case stt.EventOpened:
		r.connOpen = true
		m.log.Debug().Str("runId", r.id).Msg("Recognition connection open")

	case stt.EventPartial:
		m.metrics.RecordPartialTranscript()
		text, speaker := ev.Text, ev.Speaker
		p = append(p, func(o Observer) { o.Partial(text, speaker) })

	case stt.EventFinal:
		m.metrics.RecordFinalTranscript()
		text := m.buffer.AppendFinal(ev.Text, ev.Speaker)
		p = append(p, func(o Observer) { o.TranscriptUpdated(text) })

	case stt.EventSpeechStarted:
		m.log.Debug().Str("runId", r.id).Msg("Speech started")

	case stt.EventUtteranceEnd:
		m.metrics.RecordUtterance()

	case stt.EventError:
		m.metrics.RecordSTTError(m.dialer.Name(), "stream")
		m.log.Error().Err(ev.Err).Str("runId", r.id).Msg("Recognition stream error")
		notify(&p, models.Notification{Level: models.LevelError, Code: models.CodeTranscriptionError, Message: "Transcription failed. Recording has stopped.", Retryable: true})
		teardown := m.detachLocked(CmdFail, &p)
		m.unlockAndDispatch(p)
		teardown()
		return

	case stt.EventClosed:
		r.conn = nil
		r.connOpen = false
		normal := stt.IsNormalClosure(ev.Code)
		m.metrics.RecordClosure(normal)
		logEv := m.log.Info().Str("runId", r.id).Int("code", ev.Code).Str("reason", ev.Reason)

		if normal {
			logEv.Msg("Recognition service closed the connection")
			teardown := m.detachLocked(CmdStop, &p)
			m.unlockAndDispatch(p)
			teardown()
			return
		}

		switch m.status {
		case StatusRecording:
			logEv.Dur("backoff", m.cfg.ReconnectBackoff).Msg("Connection lost, scheduling reconnect")
			_ = m.transitionLocked(CmdConnectionLost, &p)
			r.reconnect = m.clock.AfterFunc(m.cfg.ReconnectBackoff, func() { m.reconnect(r) })
		default:
			logEv.Str("status", m.status.String()).Msg("Connection lost while not recording")
		}
	}
	m.unlockAndDispatch(p)
}

// reconnect makes the single reopen attempt after an unexpected closure.
func (m *Machine) reconnect(r *run) {
	m.mu.Lock()
	if m.run != r || m.status != StatusReconnecting {
		m.mu.Unlock()
		return
	}
	r.reconnect = nil
	ctx := r.ctx
	m.mu.Unlock()

	conn, err := m.dialer.Open(ctx, m.cfg.Options)
	m.metrics.RecordReconnect(err)

	m.mu.Lock()
	if m.run != r {
		m.mu.Unlock()
		if conn != nil {
			m.discard(conn, "session ended during reconnect")
		}
		return
	}

	var p pending
	switch {
	case err != nil:
		m.log.Error().Err(err).Str("runId", r.id).Msg("Reconnect failed")
		notify(&p, models.Notification{Level: models.LevelError, Code: models.CodeConnectionLost, Message: "Transcription connection lost. Start recording again.", Retryable: true})
		teardown := m.detachLocked(CmdFail, &p)
		m.unlockAndDispatch(p)
		teardown()
		return

	case m.status == StatusPaused:
		// Paused while the attempt was in flight; keep the connection for Resume.
		r.conn = conn
		r.connOpen = false
		go m.listen(r, conn)

	default:
		r.conn = conn
		r.connOpen = false
		_ = m.transitionLocked(CmdReconnected, &p)
		go m.listen(r, conn)
		m.log.Info().Str("runId", r.id).Msg("Reconnected")
	}
	m.unlockAndDispatch(p)
}
