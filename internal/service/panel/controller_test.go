package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-scribe-service/internal/clinicalengine"
	"clinical-scribe-service/internal/clock"
	"clinical-scribe-service/internal/drafts"
	"clinical-scribe-service/internal/models"
	"clinical-scribe-service/internal/schema"
	"clinical-scribe-service/internal/service/capture"
	"clinical-scribe-service/internal/service/session"
	"clinical-scribe-service/internal/service/stt/mock"
	"clinical-scribe-service/internal/store"
)

type eventLog struct {
	v *schema.Validator

	mu      sync.Mutex
	events  []models.Event
	invalid []error
}

func (l *eventLog) Emit(ev models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.v.Validate(ev); err != nil {
		l.invalid = append(l.invalid, err)
	}
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t models.EventType) []models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) codes() []string {
	var out []string
	for _, ev := range l.ofType(models.EventNotification) {
		out = append(out, ev.Payload.(models.Notification).Code)
	}
	return out
}

func (l *eventLog) panelStatuses() []string {
	var out []string
	for _, ev := range l.ofType(models.EventPanelStatus) {
		out = append(out, ev.Payload.(models.PanelStatus).Status)
	}
	return out
}

func (l *eventLog) shown(id string) int {
	n := 0
	for _, ev := range l.ofType(models.EventAlertShown) {
		if ev.Payload.(models.Alert).ID == id {
			n++
		}
	}
	return n
}

type fakeEngine struct {
	mu        sync.Mutex
	err       error
	diagnosis *clinicalengine.DiagnosisResponse
	requests  []clinicalengine.EncounterRequest
}

func (e *fakeEngine) record(req clinicalengine.EncounterRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return e.err
}

func (e *fakeEngine) GenerateDiagnosis(ctx context.Context, req clinicalengine.EncounterRequest) (*clinicalengine.DiagnosisResponse, error) {
	if err := e.record(req); err != nil {
		return nil, err
	}
	return e.diagnosis, nil
}

func (e *fakeEngine) DifferentialDiagnoses(ctx context.Context, req clinicalengine.EncounterRequest) (*clinicalengine.DifferentialResponse, error) {
	if err := e.record(req); err != nil {
		return nil, err
	}
	return &clinicalengine.DifferentialResponse{}, nil
}

func (e *fakeEngine) Treatments(ctx context.Context, req clinicalengine.TreatmentsRequest) (*clinicalengine.TreatmentsResponse, error) {
	if err := e.record(clinicalengine.EncounterRequest{Transcript: req.Transcript}); err != nil {
		return nil, err
	}
	return &clinicalengine.TreatmentsResponse{Treatments: []string{"Paracetamol 1g", "Oral fluids"}}, nil
}

func (e *fakeEngine) Alerts(ctx context.Context, req clinicalengine.EncounterRequest) (*clinicalengine.AlertsResponse, error) {
	if err := e.record(req); err != nil {
		return nil, err
	}
	return &clinicalengine.AlertsResponse{}, nil
}

type fixture struct {
	store  *store.Memory
	drafts *drafts.FileStore
	dialer *mock.Dialer
	relay  *capture.Relay
	clock  *clock.Fake
	events *eventLog
	engine *fakeEngine
	deps   Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ds, err := drafts.NewFileStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store:  store.NewMemory(),
		drafts: ds,
		dialer: mock.New(),
		relay:  capture.NewRelay(),
		clock:  clock.NewFake(time.Unix(1700000000, 0)),
		events: &eventLog{v: schema.New()},
		engine: &fakeEngine{},
	}
	f.store.AddPatient(store.Patient{ID: "patient-1", Name: "Ada Lovelace"})
	f.relay.Attach()
	f.deps = Deps{
		Store:   f.store,
		Drafts:  f.drafts,
		Engine:  f.engine,
		Dialer:  f.dialer,
		Events:  f.events,
		Clock:   f.clock,
		Session: session.DefaultConfig(),
		Alerts:  AlertsConfig{Mode: AlertModePhrase, ToastTTL: time.Hour},
	}
	t.Cleanup(func() {
		f.events.mu.Lock()
		defer f.events.mu.Unlock()
		assert.Empty(t, f.events.invalid, "every emitted event must validate")
	})
	return f
}

func (f *fixture) open(t *testing.T, req OpenRequest) *Controller {
	t.Helper()
	c := New("panel-1", f.relay, f.deps)
	require.NoError(t, c.Open(context.Background(), req))
	t.Cleanup(func() { _ = c.Unmount(context.Background()) })
	return c
}

func (f *fixture) recordUntil(t *testing.T, c *Controller, substr string) {
	t.Helper()
	frame := make([]byte, 320)
	require.Eventually(t, func() bool {
		f.relay.Push(frame)
		f.clock.Advance(250 * time.Millisecond)
		return strings.Contains(c.View().Transcript, substr)
	}, 2*time.Second, time.Millisecond)
}

func visible(c *Controller, id string) bool {
	for _, a := range c.View().Alerts {
		if a.ID == id {
			return true
		}
	}
	return false
}

func TestController_OpenCreatesEncounter(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, OpenRequest{PatientID: "patient-1", Reason: "fever"})

	v := c.View()
	assert.Equal(t, "ACTIVE", v.Status)
	assert.Equal(t, "IDLE", v.Session)
	require.NotEmpty(t, v.EncounterID)

	enc, ok := f.store.Encounter(v.EncounterID)
	require.True(t, ok)
	assert.Equal(t, "fever", enc.Reason)
	assert.Equal(t, []string{"OPENING", "ACTIVE"}, f.events.panelStatuses())

	assert.ErrorIs(t, c.Open(context.Background(), OpenRequest{PatientID: "patient-1"}), ErrAlreadyOpen)
}

func TestController_OpenFailures(t *testing.T) {
	t.Run("unknown encounter", func(t *testing.T) {
		f := newFixture(t)
		c := New("panel-1", f.relay, f.deps)

		err := c.Open(context.Background(), OpenRequest{PatientID: "patient-1", EncounterID: "missing"})

		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Equal(t, StatusClosed, c.Status())
		assert.Equal(t, []string{models.CodeOpenFailed}, f.events.codes())
	})

	t.Run("encounter of another patient", func(t *testing.T) {
		f := newFixture(t)
		f.store.AddPatient(store.Patient{ID: "patient-2"})
		enc, err := f.store.CreateEncounter(context.Background(), "patient-2", store.EncounterFields{})
		require.NoError(t, err)

		c := New("panel-1", f.relay, f.deps)
		err = c.Open(context.Background(), OpenRequest{PatientID: "patient-1", EncounterID: enc.ID})

		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Equal(t, StatusClosed, c.Status())
	})

	t.Run("missing patient id", func(t *testing.T) {
		f := newFixture(t)
		c := New("panel-1", f.relay, f.deps)
		assert.Error(t, c.Open(context.Background(), OpenRequest{}))
		assert.Equal(t, StatusClosed, c.Status())
	})
}

func TestController_ConsultationWithFeverAlert(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, OpenRequest{PatientID: "patient-1"})
	ctx := context.Background()

	require.NoError(t, c.StartRecording(ctx))
	require.Eventually(t, c.Session().Connected, time.Second, time.Millisecond)

	f.recordUntil(t, c, "fever since Tuesday")
	require.Eventually(t, func() bool { return visible(c, "fever-reported") }, time.Second, time.Millisecond)

	require.True(t, c.DismissAlert("fever-reported"))
	assert.False(t, visible(c, "fever-reported"))

	f.recordUntil(t, c, "chest pain")
	require.Eventually(t, func() bool { return visible(c, "chest-pain") }, time.Second, time.Millisecond)
	assert.False(t, visible(c, "fever-reported"), "dismissed alert must not reappear")
	assert.Equal(t, 1, f.events.shown("fever-reported"))

	assert.NotEmpty(t, f.events.ofType(models.EventTranscriptPartial))
	require.NoError(t, c.StopRecording())
	require.NoError(t, c.SetDiagnosis("Community acquired pneumonia"))

	v := c.View()
	require.NoError(t, c.Save(ctx))

	assert.Equal(t, StatusClosed, c.Status())
	enc, ok := f.store.Encounter(v.EncounterID)
	require.True(t, ok)
	assert.Equal(t, v.Transcript, enc.Transcript)
	assert.Equal(t, "Community acquired pneumonia", enc.Diagnosis)
	assert.True(t, strings.HasPrefix(enc.SoapNote, "S: Speaker 0: What brings you in today?"))
	assert.Contains(t, enc.SoapNote, "A: Community acquired pneumonia")

	text, err := drafts.Recover(ctx, f.drafts, drafts.DraftID("patient-1", ""))
	require.NoError(t, err)
	assert.Empty(t, text, "saved panel must clear its draft")
	assert.Equal(t, []string{"OPENING", "ACTIVE", "SAVING", "CLOSED"}, f.events.panelStatuses())
}

func TestController_EditWhileRecording(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, OpenRequest{PatientID: "patient-1"})

	require.NoError(t, c.StartRecording(context.Background()))
	assert.ErrorIs(t, c.EditTranscript("typed note"), ErrEditWhileRecording)

	require.NoError(t, c.PauseRecording())
	require.NoError(t, c.EditTranscript("Patient reports fever"))
	assert.Equal(t, "Patient reports fever", c.View().Transcript)

	updates := f.events.ofType(models.EventTranscriptUpdated)
	require.NotEmpty(t, updates)
	assert.True(t, updates[len(updates)-1].Payload.(models.TranscriptUpdated).Edited)
	require.Eventually(t, func() bool { return visible(c, "fever-reported") }, time.Second, time.Millisecond)
}

func TestController_RequestCloseWithoutContent(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		f := newFixture(t)
		c := f.open(t, OpenRequest{PatientID: "patient-1"})
		id := c.View().EncounterID

		decision, err := c.RequestClose(context.Background())

		require.NoError(t, err)
		assert.Equal(t, DecisionClosed, decision)
		assert.Equal(t, StatusClosed, c.Status())
		enc, _ := f.store.Encounter(id)
		assert.True(t, enc.Deleted, "empty encounter created by the panel is deleted")
		assert.Empty(t, f.events.ofType(models.EventCloseConfirmation))
	})

	t.Run("active session", func(t *testing.T) {
		f := newFixture(t)
		c := f.open(t, OpenRequest{PatientID: "patient-1"})
		require.NoError(t, c.StartRecording(context.Background()))
		m := c.Session()

		decision, err := c.RequestClose(context.Background())

		require.NoError(t, err)
		assert.Equal(t, DecisionClosed, decision)
		assert.Equal(t, session.StatusStopped, m.Status())
		assert.False(t, m.Holding())
		assert.Nil(t, c.Session())
	})
}

func TestController_RequestCloseConfirmation(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, OpenRequest{PatientID: "patient-1"})
	ctx := context.Background()
	id := c.View().EncounterID

	assert.ErrorIs(t, c.ResolveClose(ctx, ChoiceSave), ErrNoPendingClose)
	require.NoError(t, c.EditTranscript("Patient reports a sore throat"))

	decision, err := c.RequestClose(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionConfirm, decision)
	confirms := f.events.ofType(models.EventCloseConfirmation)
	require.Len(t, confirms, 1)
	assert.Equal(t, []string{"save", "discard", "cancel"}, confirms[0].Payload.(models.CloseConfirmation).Choices)
	assert.True(t, c.View().ConfirmPending)

	assert.ErrorIs(t, c.ResolveClose(ctx, "later"), ErrUnknownChoice)
	require.NoError(t, c.ResolveClose(ctx, ChoiceCancel))
	assert.Equal(t, StatusActive, c.Status())
	assert.ErrorIs(t, c.ResolveClose(ctx, ChoiceCancel), ErrNoPendingClose)

	_, err = c.RequestClose(ctx)
	require.NoError(t, err)
	require.NoError(t, c.ResolveClose(ctx, ChoiceDiscard))

	assert.Equal(t, StatusClosed, c.Status())
	enc, _ := f.store.Encounter(id)
	assert.True(t, enc.Deleted)
	text, err := drafts.Recover(ctx, f.drafts, drafts.DraftID("patient-1", ""))
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestController_SavePartialFailure(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, OpenRequest{PatientID: "patient-1"})
	ctx := context.Background()
	id := c.View().EncounterID

	require.NoError(t, c.EditTranscript("Patient reports cough"))
	require.NoError(t, c.SetDiagnosis("Acute bronchitis"))
	f.store.FailOn("UpdateDiagnosis", errors.New("connection reset"))

	err := c.Save(ctx)

	var saveErr *SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.Equal(t, []string{"diagnosis"}, saveErr.Failed)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, StatusActive, c.Status())
	assert.Contains(t, f.events.codes(), models.CodeSaveFailed)

	enc, _ := f.store.Encounter(id)
	assert.Equal(t, "Patient reports cough", enc.Transcript, "successful writes are kept")
	assert.Empty(t, enc.Diagnosis)

	text, err := drafts.Recover(ctx, f.drafts, drafts.DraftID("patient-1", ""))
	require.NoError(t, err)
	assert.Equal(t, "Patient reports cough", text)

	f.store.FailOn("UpdateDiagnosis", nil)
	require.NoError(t, c.Save(ctx))
	assert.Equal(t, StatusClosed, c.Status())
	enc, _ = f.store.Encounter(id)
	assert.Equal(t, "Acute bronchitis", enc.Diagnosis)
	assert.False(t, enc.Deleted)
}

func TestController_DiscardKeepsExistingEncounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	enc, err := f.store.CreateEncounter(ctx, "patient-1", store.EncounterFields{})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateTranscript(ctx, "patient-1", enc.ID, "Earlier visit notes"))

	c := f.open(t, OpenRequest{PatientID: "patient-1", EncounterID: enc.ID})
	assert.Equal(t, "Earlier visit notes", c.View().Transcript)

	require.NoError(t, c.Discard(ctx))

	got, _ := f.store.Encounter(enc.ID)
	assert.False(t, got.Deleted)
	assert.Equal(t, "Earlier visit notes", got.Transcript)
}

func TestController_DraftRecoveredAfterUnmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.open(t, OpenRequest{PatientID: "patient-1"})
	require.NoError(t, first.EditTranscript("Patient reports headache for three days"))
	require.NoError(t, first.Unmount(ctx))
	assert.Equal(t, StatusClosed, first.Status())

	second := New("panel-2", f.relay, f.deps)
	require.NoError(t, second.Open(ctx, OpenRequest{PatientID: "patient-1"}))
	t.Cleanup(func() { _ = second.Unmount(ctx) })

	assert.Equal(t, "Patient reports headache for three days", second.View().Transcript)
	updates := f.events.ofType(models.EventTranscriptUpdated)
	require.NotEmpty(t, updates)
	assert.Equal(t, "panel-2", updates[len(updates)-1].PanelID)
}

func TestController_GenerateDiagnosis(t *testing.T) {
	f := newFixture(t)
	f.engine.diagnosis = &clinicalengine.DiagnosisResponse{
		DiagnosticResult: &clinicalengine.DiagnosticResult{
			DiagnosisName:         "Influenza",
			DiagnosisCode:         "J11.1",
			RecommendedTreatments: []string{"Rest", "Oral fluids"},
		},
		SoapNote: "S: fever for two days",
	}
	c := f.open(t, OpenRequest{PatientID: "patient-1"})
	require.NoError(t, c.EditTranscript("Patient reports fever for two days"))

	_, err := c.GenerateDiagnosis(context.Background())
	require.NoError(t, err)

	v := c.View()
	assert.Equal(t, "Influenza (J11.1)", v.Diagnosis)
	assert.Equal(t, "Rest\nOral fluids", v.Treatments)
	assert.Equal(t, "S: fever for two days", v.SoapNote)
	require.Len(t, f.engine.requests, 1)
	assert.Equal(t, v.EncounterID, f.engine.requests[0].EncounterID)
	assert.Equal(t, "Patient reports fever for two days", f.engine.requests[0].Transcript)

	resp, err := c.SuggestTreatments(context.Background())
	require.NoError(t, err)
	assert.Len(t, resp.Treatments, 2)
	assert.Equal(t, "Paracetamol 1g\nOral fluids", c.View().Treatments)
}

func TestController_EngineUnavailable(t *testing.T) {
	f := newFixture(t)
	f.engine.err = fmt.Errorf("%w: status 503", clinicalengine.ErrEngineUnavailable)
	c := f.open(t, OpenRequest{PatientID: "patient-1"})

	_, err := c.GenerateDiagnosis(context.Background())
	assert.ErrorIs(t, err, clinicalengine.ErrEngineUnavailable)

	_, err = c.DifferentialDiagnoses(context.Background())
	assert.ErrorIs(t, err, clinicalengine.ErrEngineUnavailable)

	assert.Equal(t, []string{models.CodeEngineUnavailable, models.CodeEngineUnavailable}, f.events.codes())
	assert.Equal(t, StatusActive, c.Status())
}

func TestController_OperationsRequireActivePanel(t *testing.T) {
	f := newFixture(t)
	c := New("panel-1", f.relay, f.deps)
	ctx := context.Background()

	assert.ErrorIs(t, c.StartRecording(ctx), ErrNotActive)
	assert.ErrorIs(t, c.EditTranscript("x"), ErrNotActive)
	assert.ErrorIs(t, c.Save(ctx), ErrNotActive)
	assert.ErrorIs(t, c.Discard(ctx), ErrNotActive)
	_, err := c.RequestClose(ctx)
	assert.ErrorIs(t, err, ErrNotActive)
	assert.NoError(t, c.Unmount(ctx))
	assert.False(t, c.DismissAlert("fever-reported"))
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	r := NewRegistry(f.deps)
	ctx := context.Background()

	a, err := r.Open(ctx, OpenRequest{PatientID: "patient-1"}, f.relay)
	require.NoError(t, err)
	b, err := r.Open(ctx, OpenRequest{PatientID: "patient-1"}, capture.NewRelay())
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)

	_, err = r.Open(ctx, OpenRequest{PatientID: "nobody"}, capture.NewRelay())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 2, r.Len(), "failed opens are not tracked")

	decision, err := a.RequestClose(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionClosed, decision)
	_, ok = r.Get(a.ID())
	assert.False(t, ok, "closed panels leave the registry")

	require.NoError(t, b.EditTranscript("Patient reports dizziness"))
	require.NoError(t, r.UnmountAll(ctx))
	assert.Zero(t, r.Len())
	assert.Equal(t, StatusClosed, b.Status())
}
