// Package store is the persistence collaborator for encounters: create,
// per-field updates, soft delete and patient lookups.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnavailable      = errors.New("store unavailable")
)

type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Encounter is one consultation record.
type Encounter struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patientId"`
	Reason     string    `json:"reason,omitempty"`
	Transcript string    `json:"transcript"`
	Diagnosis  string    `json:"diagnosis"`
	Treatments string    `json:"treatments"`
	SoapNote   string    `json:"soapNote"`
	Deleted    bool      `json:"deleted"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Empty reports whether no clinical content has been written.
func (e *Encounter) Empty() bool {
	return e.Transcript == "" && e.Diagnosis == "" && e.Treatments == "" && e.SoapNote == ""
}

// EncounterFields are the caller-supplied fields of a new encounter.
type EncounterFields struct {
	Reason string `json:"reason,omitempty"`
}

type PatientData struct {
	Patient    Patient     `json:"patient"`
	Encounters []Encounter `json:"encounters"`
}

// Store persists encounters. Errors wrap ErrNotFound, ErrPermissionDenied
// or ErrUnavailable.
type Store interface {
	CreateEncounter(ctx context.Context, patientID string, f EncounterFields) (*Encounter, error)
	GetEncounter(ctx context.Context, encounterID string) (*Encounter, error)
	UpdateTranscript(ctx context.Context, patientID, encounterID, text string) error
	UpdateDiagnosis(ctx context.Context, patientID, encounterID, text string) error
	UpdateTreatments(ctx context.Context, patientID, encounterID, text string) error
	UpdateSoapNote(ctx context.Context, patientID, encounterID, text string) error
	MarkDeleted(ctx context.Context, encounterID string) error
	GetPatientData(ctx context.Context, patientID string) (*PatientData, error)
	Ping(ctx context.Context) error
}
