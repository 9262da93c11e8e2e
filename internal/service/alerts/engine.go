package alerts

import (
	"context"

	"clinical-scribe-service/internal/clinicalengine"
	"clinical-scribe-service/internal/models"
)

// AlertSource is the engine call the EngineEvaluator delegates to.
type AlertSource interface {
	Alerts(ctx context.Context, req clinicalengine.EncounterRequest) (*clinicalengine.AlertsResponse, error)
}

// EngineEvaluator asks the clinical engine for alerts on one encounter.
type EngineEvaluator struct {
	src         AlertSource
	patientID   string
	encounterID string
}

func NewEngineEvaluator(src AlertSource, patientID, encounterID string) *EngineEvaluator {
	return &EngineEvaluator{src: src, patientID: patientID, encounterID: encounterID}
}

func (e *EngineEvaluator) Evaluate(ctx context.Context, transcript string) ([]models.Alert, error) {
	resp, err := e.src.Alerts(ctx, clinicalengine.EncounterRequest{
		PatientID:   e.patientID,
		EncounterID: e.encounterID,
		Transcript:  transcript,
	})
	if err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}
