package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"clinical-scribe-service/internal/clinicalengine"
	"clinical-scribe-service/internal/clock"
	"clinical-scribe-service/internal/drafts"
	"clinical-scribe-service/internal/events"
	"clinical-scribe-service/internal/models"
	"clinical-scribe-service/internal/observability/logging"
	"clinical-scribe-service/internal/observability/metrics"
	"clinical-scribe-service/internal/service/alerts"
	"clinical-scribe-service/internal/service/capture"
	"clinical-scribe-service/internal/service/session"
	"clinical-scribe-service/internal/service/stt"
	"clinical-scribe-service/internal/service/transcript"
	"clinical-scribe-service/internal/store"
)

// Engine is the clinical engine surface used by a panel.
type Engine interface {
	GenerateDiagnosis(ctx context.Context, req clinicalengine.EncounterRequest) (*clinicalengine.DiagnosisResponse, error)
	DifferentialDiagnoses(ctx context.Context, req clinicalengine.EncounterRequest) (*clinicalengine.DifferentialResponse, error)
	Treatments(ctx context.Context, req clinicalengine.TreatmentsRequest) (*clinicalengine.TreatmentsResponse, error)
	Alerts(ctx context.Context, req clinicalengine.EncounterRequest) (*clinicalengine.AlertsResponse, error)
}

// Alert evaluation modes.
const (
	AlertModePhrase = "phrase"
	AlertModeEngine = "engine"
)

// AlertsConfig configures the per-panel alert trigger and toast queue.
type AlertsConfig struct {
	Mode        string
	Rules       []alerts.Rule
	ToastTTL    time.Duration
	MaxVisible  int
	EvalTimeout time.Duration
}

// Deps are the collaborators shared by every panel.
type Deps struct {
	Store  store.Store
	Drafts drafts.Store
	Engine Engine
	Dialer stt.Dialer
	// Events receives every panel event. Nil discards them.
	Events           events.Sink
	Clock            clock.Clock
	Session          session.Config
	Alerts           AlertsConfig
	MaxBufferedAudio int
	DraftDebounce    time.Duration
}

// OpenRequest identifies the encounter a panel works on. An empty
// EncounterID creates a new encounter.
type OpenRequest struct {
	PatientID   string `json:"patientId"`
	EncounterID string `json:"encounterId,omitempty"`
	Reason      string `json:"reason,omitempty"`
	AutoStart   bool   `json:"autoStart,omitempty"`
}

// View is a point-in-time snapshot of a panel.
type View struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	PatientID      string         `json:"patientId,omitempty"`
	EncounterID    string         `json:"encounterId,omitempty"`
	Session        string         `json:"session,omitempty"`
	Transcript     string         `json:"transcript"`
	Diagnosis      string         `json:"diagnosis,omitempty"`
	Treatments     string         `json:"treatments,omitempty"`
	SoapNote       string         `json:"soapNote,omitempty"`
	Alerts         []models.Alert `json:"alerts"`
	ConfirmPending bool           `json:"confirmPending,omitempty"`
}

// Controller is one consultation panel.
type Controller struct {
	id      string
	device  capture.Device
	deps    Deps
	clock   clock.Clock
	metrics *metrics.Metrics
	log     zerolog.Logger

	onClosed func(id string)

	mu     sync.Mutex
	status Status
	a      *active
}

// active holds everything that lives between Open and close.
type active struct {
	patientID   string
	encounterID string
	created     bool

	buffer   *transcript.Buffer
	machine  *session.Machine
	autosave *drafts.Autosaver
	toasts   *alerts.ToastQueue
	trigger  *alerts.Trigger

	diagnosis      string
	treatments     string
	soapNote       string
	confirmPending bool
}

// New creates a closed panel capturing from device.
func New(id string, device capture.Device, deps Deps) *Controller {
	if deps.Events == nil {
		deps.Events = events.SinkFunc(func(models.Event) {})
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Session.ChunkInterval <= 0 {
		deps.Session = session.DefaultConfig()
	}
	return &Controller{
		id:      id,
		device:  device,
		deps:    deps,
		clock:   deps.Clock,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("panel").With().Str("panelId", id).Logger(),
	}
}

func (c *Controller) ID() string { return c.id }

// Device returns the capture device the panel records from.
func (c *Controller) Device() capture.Device { return c.device }

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns the recording session, or nil when the panel is closed.
func (c *Controller) Session() *session.Machine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.a == nil {
		return nil
	}
	return c.a.machine
}

// View returns a snapshot of the panel.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{ID: c.id, Status: c.status.String(), Alerts: []models.Alert{}}
	a := c.a
	if a == nil {
		return v
	}
	v.PatientID = a.patientID
	v.EncounterID = a.encounterID
	v.Session = a.machine.Status().String()
	v.Transcript = a.buffer.Text()
	v.Diagnosis = a.diagnosis
	v.Treatments = a.treatments
	v.SoapNote = a.soapNote
	v.Alerts = a.toasts.Visible()
	v.ConfirmPending = a.confirmPending
	return v
}

func (c *Controller) emit(patientID string, t models.EventType, payload any) {
	c.deps.Events.Emit(models.Event{
		Type:      t,
		PanelID:   c.id,
		PatientID: patientID,
		Timestamp: c.clock.Now().UnixMilli(),
		Payload:   payload,
	})
}

func (c *Controller) emitStatus(a *active, s Status) {
	c.emit(a.patientID, models.EventPanelStatus, models.PanelStatus{Status: s.String(), EncounterID: a.encounterID})
}

func (c *Controller) notify(patientID string, n models.Notification) {
	c.emit(patientID, models.EventNotification, n)
}

// Open loads or creates the encounter, restores any draft and wires the
// recording session, alert trigger and autosave.
func (c *Controller) Open(ctx context.Context, req OpenRequest) error {
	if req.PatientID == "" {
		return fmt.Errorf("open panel: patient id required")
	}

	c.mu.Lock()
	if c.status != StatusClosed {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.status = StatusOpening
	c.mu.Unlock()

	c.emit(req.PatientID, models.EventPanelStatus, models.PanelStatus{Status: StatusOpening.String(), EncounterID: req.EncounterID})

	enc, created, err := c.resolveEncounter(ctx, req)
	if err != nil {
		c.mu.Lock()
		c.status = StatusClosed
		c.mu.Unlock()

		c.log.Error().Err(err).Str("patientId", req.PatientID).Msg("Failed to open encounter")
		c.notify(req.PatientID, models.Notification{
			Level:     models.LevelError,
			Code:      models.CodeOpenFailed,
			Message:   "Could not open the encounter",
			Retryable: errors.Is(err, store.ErrUnavailable),
		})
		c.emit(req.PatientID, models.EventPanelStatus, models.PanelStatus{Status: StatusClosed.String()})
		return err
	}

	a := &active{
		patientID:   req.PatientID,
		encounterID: enc.ID,
		created:     created,
		buffer:      transcript.NewBuffer(),
		diagnosis:   enc.Diagnosis,
		treatments:  enc.Treatments,
		soapNote:    enc.SoapNote,
	}
	log := logging.WithEncounter(c.id, a.patientID, a.encounterID)

	if enc.Transcript != "" {
		a.buffer.Edit(enc.Transcript)
	}

	draftID := drafts.DraftID(req.PatientID, req.EncounterID)
	if a.buffer.Empty() {
		text, err := drafts.Recover(ctx, c.deps.Drafts, draftID)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("draftId", draftID).Msg("Draft recovery failed")
		case text != "":
			a.buffer.Edit(text)
			log.Info().Str("draftId", draftID).Int("chars", len(text)).Msg("Draft recovered")
		}
	}

	h := &hooks{c: c, a: a}
	a.autosave = drafts.NewAutosaver(c.deps.Drafts, draftID, c.clock, c.deps.DraftDebounce)
	a.toasts = alerts.NewToastQueue(c.clock, c.deps.Alerts.ToastTTL, c.deps.Alerts.MaxVisible, h)
	a.trigger = alerts.NewTrigger(c.evaluator(a), a.toasts, h.Notify, c.clock, c.deps.Alerts.EvalTimeout)
	a.machine = session.NewMachine(
		c.id,
		capture.NewAdapter(c.device, c.deps.MaxBufferedAudio),
		c.deps.Dialer,
		a.buffer,
		h,
		c.clock,
		c.deps.Session,
	)

	c.mu.Lock()
	c.a = a
	c.status = StatusActive
	c.mu.Unlock()

	c.metrics.RecordPanelOpened()
	log.Info().Bool("created", created).Msg("Panel opened")
	c.emitStatus(a, StatusActive)
	if !a.buffer.Empty() {
		c.emit(a.patientID, models.EventTranscriptUpdated, models.TranscriptUpdated{Text: a.buffer.Text()})
	}

	if req.AutoStart {
		// Start failures are reported through notifications.
		if err := a.machine.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("Auto start failed")
		}
	}
	return nil
}

func (c *Controller) resolveEncounter(ctx context.Context, req OpenRequest) (*store.Encounter, bool, error) {
	if req.EncounterID == "" {
		enc, err := c.deps.Store.CreateEncounter(ctx, req.PatientID, store.EncounterFields{Reason: req.Reason})
		if err != nil {
			return nil, false, fmt.Errorf("create encounter: %w", err)
		}
		return enc, true, nil
	}

	enc, err := c.deps.Store.GetEncounter(ctx, req.EncounterID)
	if err != nil {
		return nil, false, fmt.Errorf("get encounter %s: %w", req.EncounterID, err)
	}
	if enc.PatientID != req.PatientID || enc.Deleted {
		return nil, false, fmt.Errorf("get encounter %s: %w", req.EncounterID, store.ErrNotFound)
	}
	return enc, false, nil
}

func (c *Controller) evaluator(a *active) alerts.Evaluator {
	if c.deps.Alerts.Mode == AlertModeEngine && c.deps.Engine != nil {
		return alerts.NewEngineEvaluator(c.deps.Engine, a.patientID, a.encounterID)
	}
	return alerts.NewPhraseEvaluator(c.deps.Alerts.Rules)
}

func (c *Controller) current() (*active, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusActive || c.a == nil {
		return nil, ErrNotActive
	}
	return c.a, nil
}

// StartRecording acquires the microphone and opens recognition.
func (c *Controller) StartRecording(ctx context.Context) error {
	a, err := c.current()
	if err != nil {
		return err
	}
	return a.machine.Start(ctx)
}

func (c *Controller) PauseRecording() error {
	a, err := c.current()
	if err != nil {
		return err
	}
	return a.machine.Pause()
}

func (c *Controller) ResumeRecording(ctx context.Context) error {
	a, err := c.current()
	if err != nil {
		return err
	}
	return a.machine.Resume(ctx)
}

// StopRecording ends the session. The transcript stays in the panel.
func (c *Controller) StopRecording() error {
	a, err := c.current()
	if err != nil {
		return err
	}
	a.machine.Stop()
	return nil
}

// SetHidden records page visibility; hiding pauses a recording session.
func (c *Controller) SetHidden(hidden bool) {
	a, err := c.current()
	if err != nil {
		return
	}
	a.machine.SetHidden(hidden)
}

// DeviceLost tells the session its audio source went away, pausing it until
// the device returns and recording is resumed.
func (c *Controller) DeviceLost() {
	a, err := c.current()
	if err != nil {
		return
	}
	a.machine.DeviceLost()
}

// EditTranscript replaces the transcript with user-edited text.
func (c *Controller) EditTranscript(text string) error {
	a, err := c.current()
	if err != nil {
		return err
	}
	switch a.machine.Status() {
	case session.StatusRecording, session.StatusReconnecting:
		return ErrEditWhileRecording
	}

	a.buffer.Edit(text)
	rendered := a.buffer.Text()
	a.autosave.Schedule(rendered)
	c.emit(a.patientID, models.EventTranscriptUpdated, models.TranscriptUpdated{Text: rendered, Edited: true})
	a.trigger.OnTranscriptUpdate(rendered)
	return nil
}

func (c *Controller) SetDiagnosis(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusActive {
		return ErrNotActive
	}
	c.a.diagnosis = text
	return nil
}

func (c *Controller) SetTreatments(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusActive {
		return ErrNotActive
	}
	c.a.treatments = text
	return nil
}

// DismissAlert removes a visible alert. It reports whether one was removed.
func (c *Controller) DismissAlert(id string) bool {
	a, err := c.current()
	if err != nil {
		return false
	}
	return a.toasts.Dismiss(id)
}

func (c *Controller) encounterRequest(a *active) clinicalengine.EncounterRequest {
	return clinicalengine.EncounterRequest{
		PatientID:   a.patientID,
		EncounterID: a.encounterID,
		Transcript:  a.buffer.Text(),
	}
}

func (c *Controller) engineFailed(a *active, op string, err error) {
	c.log.Warn().Err(err).Str("op", op).Msg("Clinical engine call failed")
	c.notify(a.patientID, models.Notification{
		Level:     models.LevelWarn,
		Code:      models.CodeEngineUnavailable,
		Message:   "Clinical engine request failed",
		Retryable: errors.Is(err, clinicalengine.ErrEngineUnavailable),
	})
}

func (c *Controller) engine() (Engine, error) {
	if c.deps.Engine == nil {
		return nil, fmt.Errorf("%w: not configured", clinicalengine.ErrEngineUnavailable)
	}
	return c.deps.Engine, nil
}

// GenerateDiagnosis asks the engine for a diagnosis and SOAP note and
// fills the panel's diagnosis, and treatments when none were entered.
func (c *Controller) GenerateDiagnosis(ctx context.Context) (*clinicalengine.DiagnosisResponse, error) {
	a, err := c.current()
	if err != nil {
		return nil, err
	}
	eng, err := c.engine()
	if err != nil {
		return nil, err
	}

	resp, err := eng.GenerateDiagnosis(ctx, c.encounterRequest(a))
	if err != nil {
		c.engineFailed(a, "diagnosis", err)
		return nil, err
	}

	c.mu.Lock()
	if r := resp.DiagnosticResult; r != nil {
		a.diagnosis = formatDiagnosis(r)
		if a.treatments == "" && len(r.RecommendedTreatments) > 0 {
			a.treatments = strings.Join(r.RecommendedTreatments, "\n")
		}
	}
	if resp.SoapNote != "" {
		a.soapNote = resp.SoapNote
	}
	c.mu.Unlock()
	return resp, nil
}

func formatDiagnosis(r *clinicalengine.DiagnosticResult) string {
	if r.DiagnosisCode == "" {
		return r.DiagnosisName
	}
	return fmt.Sprintf("%s (%s)", r.DiagnosisName, r.DiagnosisCode)
}

func (c *Controller) DifferentialDiagnoses(ctx context.Context) (*clinicalengine.DifferentialResponse, error) {
	a, err := c.current()
	if err != nil {
		return nil, err
	}
	eng, err := c.engine()
	if err != nil {
		return nil, err
	}
	resp, err := eng.DifferentialDiagnoses(ctx, c.encounterRequest(a))
	if err != nil {
		c.engineFailed(a, "differential", err)
		return nil, err
	}
	return resp, nil
}

// SuggestTreatments asks the engine for treatments for the current
// diagnosis and stores them in the panel.
func (c *Controller) SuggestTreatments(ctx context.Context) (*clinicalengine.TreatmentsResponse, error) {
	a, err := c.current()
	if err != nil {
		return nil, err
	}
	eng, err := c.engine()
	if err != nil {
		return nil, err
	}

	req := clinicalengine.TreatmentsRequest{Transcript: a.buffer.Text()}
	c.mu.Lock()
	req.Diagnosis = a.diagnosis
	c.mu.Unlock()
	if data, err := c.deps.Store.GetPatientData(ctx, a.patientID); err != nil {
		c.log.Warn().Err(err).Msg("Patient data unavailable for treatments")
	} else {
		req.PatientData = data
	}

	resp, err := eng.Treatments(ctx, req)
	if err != nil {
		c.engineFailed(a, "treatments", err)
		return nil, err
	}
	if len(resp.Treatments) > 0 {
		c.mu.Lock()
		a.treatments = strings.Join(resp.Treatments, "\n")
		c.mu.Unlock()
	}
	return resp, nil
}

// RequestClose closes a panel without content immediately and asks for a
// save, discard or cancel choice otherwise.
func (c *Controller) RequestClose(ctx context.Context) (CloseDecision, error) {
	a, err := c.current()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	hasContent := !a.buffer.Empty() || a.diagnosis != "" || a.treatments != ""
	if hasContent {
		a.confirmPending = true
	}
	c.mu.Unlock()

	if hasContent {
		c.emit(a.patientID, models.EventCloseConfirmation, models.CloseConfirmation{
			Choices: []string{ChoiceSave, ChoiceDiscard, ChoiceCancel},
		})
		return DecisionConfirm, nil
	}

	if a.machine.Status().Active() {
		c.log.Info().Msg("Closing panel with an empty recording session")
	}
	return DecisionClosed, c.Discard(ctx)
}

// ResolveClose applies the user's answer to a pending close confirmation.
func (c *Controller) ResolveClose(ctx context.Context, choice string) error {
	a, err := c.current()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !a.confirmPending {
		c.mu.Unlock()
		return ErrNoPendingClose
	}
	switch choice {
	case ChoiceSave, ChoiceDiscard, ChoiceCancel:
		a.confirmPending = false
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownChoice, choice)
	}
	c.mu.Unlock()

	switch choice {
	case ChoiceSave:
		return c.Save(ctx)
	case ChoiceDiscard:
		return c.Discard(ctx)
	default:
		c.log.Debug().Msg("Close cancelled")
		return nil
	}
}

// Save stops recording and writes transcript, diagnosis, treatments and
// SOAP note concurrently. When any write fails the panel stays open, the
// draft is kept and a *SaveError names the failed writes.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	a := c.a
	c.status = StatusSaving
	a.confirmPending = false
	diagnosis, treatments, soap := a.diagnosis, a.treatments, a.soapNote
	c.mu.Unlock()

	c.emitStatus(a, StatusSaving)
	a.machine.Stop()

	text := a.buffer.Text()
	if soap == "" {
		soap = composeSOAP(text, diagnosis, treatments)
	}

	start := time.Now()
	failed, err := c.persist(ctx, a, map[string]string{
		"transcript": text,
		"diagnosis":  diagnosis,
		"treatments": treatments,
		"soap_note":  soap,
	})
	c.metrics.RecordSave(time.Since(start).Seconds(), failed)

	if err != nil {
		a.autosave.Schedule(text)
		if ferr := a.autosave.Flush(ctx); ferr != nil {
			c.log.Warn().Err(ferr).Msg("Draft flush after failed save")
		}

		c.mu.Lock()
		c.status = StatusActive
		c.mu.Unlock()

		c.log.Error().Err(err).Strs("failed", failed).Msg("Save failed")
		c.notify(a.patientID, models.Notification{
			Level:     models.LevelError,
			Code:      models.CodeSaveFailed,
			Message:   fmt.Sprintf("Could not save %s", strings.Join(failed, ", ")),
			Retryable: true,
		})
		c.emitStatus(a, StatusActive)
		return &SaveError{Failed: failed, Err: err}
	}

	if err := a.autosave.Clear(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Draft cleanup failed")
	}
	c.finish(a, "saved")
	return nil
}

// saveFields is the fixed write order used for reporting.
var saveFields = []string{"transcript", "diagnosis", "treatments", "soap_note"}

func (c *Controller) persist(ctx context.Context, a *active, values map[string]string) ([]string, error) {
	st := c.deps.Store
	writers := map[string]func(ctx context.Context, patientID, encounterID, text string) error{
		"transcript": st.UpdateTranscript,
		"diagnosis":  st.UpdateDiagnosis,
		"treatments": st.UpdateTreatments,
		"soap_note":  st.UpdateSoapNote,
	}

	errs := make([]error, len(saveFields))
	var g errgroup.Group
	for i, field := range saveFields {
		i, field := i, field
		g.Go(func() error {
			errs[i] = writers[field](ctx, a.patientID, a.encounterID, values[field])
			return nil
		})
	}
	_ = g.Wait()

	var (
		merr   *multierror.Error
		failed []string
	)
	for i, err := range errs {
		if err != nil {
			failed = append(failed, saveFields[i])
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", saveFields[i], err))
		}
	}
	return failed, merr.ErrorOrNil()
}

func composeSOAP(transcript, diagnosis, treatments string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "S: %s\n", transcript)
	b.WriteString("O:\n")
	fmt.Fprintf(&b, "A: %s\n", diagnosis)
	fmt.Fprintf(&b, "P: %s", treatments)
	return b.String()
}

// Discard stops recording, drops the draft and soft-deletes an encounter
// this panel created when nothing was ever written to it.
func (c *Controller) Discard(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	a := c.a
	c.status = StatusDiscarding
	a.confirmPending = false
	c.mu.Unlock()

	c.emitStatus(a, StatusDiscarding)
	a.machine.Stop()

	if a.created {
		enc, err := c.deps.Store.GetEncounter(ctx, a.encounterID)
		switch {
		case err != nil:
			c.log.Warn().Err(err).Str("encounterId", a.encounterID).Msg("Could not check encounter before discard")
		case enc.Empty():
			if err := c.deps.Store.MarkDeleted(ctx, a.encounterID); err != nil {
				c.log.Warn().Err(err).Str("encounterId", a.encounterID).Msg("Could not delete empty encounter")
			}
		}
	}

	if err := a.autosave.Clear(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Draft cleanup failed")
	}
	c.finish(a, "discarded")
	return nil
}

// Unmount tears the panel down without saving. The draft is flushed and
// kept so the next Open of the same encounter recovers it.
func (c *Controller) Unmount(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusActive {
		c.mu.Unlock()
		return nil
	}
	a := c.a
	c.status = StatusClosed
	c.mu.Unlock()

	a.machine.Stop()
	err := a.autosave.Flush(ctx)
	a.autosave.Stop()
	if err != nil {
		c.log.Warn().Err(err).Msg("Draft flush on unmount failed")
	}
	c.finish(a, "unmounted")
	return err
}

func (c *Controller) finish(a *active, outcome string) {
	a.trigger.Close()
	a.toasts.Close()

	c.mu.Lock()
	c.status = StatusClosed
	c.a = nil
	c.mu.Unlock()

	c.metrics.RecordPanelClosed(outcome)
	c.log.Info().Str("outcome", outcome).Str("encounterId", a.encounterID).Msg("Panel closed")
	c.emitStatus(a, StatusClosed)

	if c.onClosed != nil {
		c.onClosed(c.id)
	}
}

// hooks adapts session and toast callbacks into panel events.
type hooks struct {
	c *Controller
	a *active
}

func (h *hooks) StatusChanged(runID string, from, to session.Status) {
	h.c.emit(h.a.patientID, models.EventSessionStatus, models.SessionStatus{RunID: runID, From: from.String(), To: to.String()})
}

func (h *hooks) Partial(text string, speaker *int) {
	h.c.emit(h.a.patientID, models.EventTranscriptPartial, models.TranscriptPartial{Text: text, Speaker: speaker})
}

func (h *hooks) TranscriptUpdated(text string) {
	h.c.emit(h.a.patientID, models.EventTranscriptUpdated, models.TranscriptUpdated{Text: text})
	h.a.autosave.Schedule(text)
	h.a.trigger.OnTranscriptUpdate(text)
}

func (h *hooks) Notify(n models.Notification) {
	h.c.notify(h.a.patientID, n)
}

func (h *hooks) AlertShown(alert models.Alert) {
	h.c.emit(h.a.patientID, models.EventAlertShown, alert)
}

func (h *hooks) AlertRemoved(r models.AlertRemoved) {
	h.c.emit(h.a.patientID, models.EventAlertRemoved, r)
}
