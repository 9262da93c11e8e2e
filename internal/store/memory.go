package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinical-scribe-service/internal/observability/metrics"
)

// Memory is an in-process Store. Failures can be injected per operation.
type Memory struct {
	mu         sync.Mutex
	patients   map[string]Patient
	encounters map[string]*Encounter
	failures   map[string]error
	writes     map[string]int
	metrics    *metrics.Metrics
}

func NewMemory() *Memory {
	return &Memory{
		patients:   make(map[string]Patient),
		encounters: make(map[string]*Encounter),
		failures:   make(map[string]error),
		writes:     make(map[string]int),
		metrics:    metrics.DefaultMetrics,
	}
}

// AddPatient registers a patient.
func (m *Memory) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.patients[p.ID] = p
}

// FailOn makes every call of op return err until cleared with a nil err.
// Ops are the method names, e.g. "UpdateDiagnosis".
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Writes returns how many successful calls op has had.
func (m *Memory) Writes(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[op]
}

func (m *Memory) CreateEncounter(ctx context.Context, patientID string, f EncounterFields) (*Encounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("CreateEncounter"); err != nil {
		return nil, err
	}
	if _, ok := m.patients[patientID]; !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}
	now := time.Now()
	e := &Encounter{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Reason:    f.Reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.encounters[e.ID] = e
	m.writes["CreateEncounter"]++
	m.metrics.RecordStoreWrite("CreateEncounter", nil)
	cp := *e
	return &cp, nil
}

func (m *Memory) GetEncounter(ctx context.Context, encounterID string) (*Encounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("GetEncounter"); err != nil {
		return nil, err
	}
	e, ok := m.encounters[encounterID]
	if !ok || e.Deleted {
		return nil, fmt.Errorf("encounter %s: %w", encounterID, ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) UpdateTranscript(ctx context.Context, patientID, encounterID, text string) error {
	return m.update("UpdateTranscript", patientID, encounterID, func(e *Encounter) { e.Transcript = text })
}

func (m *Memory) UpdateDiagnosis(ctx context.Context, patientID, encounterID, text string) error {
	return m.update("UpdateDiagnosis", patientID, encounterID, func(e *Encounter) { e.Diagnosis = text })
}

func (m *Memory) UpdateTreatments(ctx context.Context, patientID, encounterID, text string) error {
	return m.update("UpdateTreatments", patientID, encounterID, func(e *Encounter) { e.Treatments = text })
}

func (m *Memory) UpdateSoapNote(ctx context.Context, patientID, encounterID, text string) error {
	return m.update("UpdateSoapNote", patientID, encounterID, func(e *Encounter) { e.SoapNote = text })
}

func (m *Memory) update(op, patientID, encounterID string, apply func(*Encounter)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(op); err != nil {
		m.metrics.RecordStoreWrite(op, err)
		return err
	}
	e, ok := m.encounters[encounterID]
	if !ok || e.Deleted || e.PatientID != patientID {
		return fmt.Errorf("encounter %s: %w", encounterID, ErrNotFound)
	}
	apply(e)
	e.UpdatedAt = time.Now()
	m.writes[op]++
	m.metrics.RecordStoreWrite(op, nil)
	return nil
}

func (m *Memory) MarkDeleted(ctx context.Context, encounterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("MarkDeleted"); err != nil {
		return err
	}
	e, ok := m.encounters[encounterID]
	if !ok {
		return fmt.Errorf("encounter %s: %w", encounterID, ErrNotFound)
	}
	e.Deleted = true
	e.UpdatedAt = time.Now()
	m.writes["MarkDeleted"]++
	return nil
}

func (m *Memory) GetPatientData(ctx context.Context, patientID string) (*PatientData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("GetPatientData"); err != nil {
		return nil, err
	}
	p, ok := m.patients[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}
	data := &PatientData{Patient: p}
	for _, e := range m.encounters {
		if e.PatientID == patientID && !e.Deleted {
			data.Encounters = append(data.Encounters, *e)
		}
	}
	sort.Slice(data.Encounters, func(i, j int) bool {
		return data.Encounters[i].CreatedAt.After(data.Encounters[j].CreatedAt)
	})
	return data, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLocked("Ping")
}

// Encounter returns a stored encounter including soft-deleted ones.
func (m *Memory) Encounter(id string) (Encounter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.encounters[id]
	if !ok {
		return Encounter{}, false
	}
	return *e, true
}

func (m *Memory) checkLocked(op string) error {
	if err, ok := m.failures[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
