// Package models defines the events a consultation panel emits to the
// browser and to the event log.
package models

// EventType identifies the payload carried by an Event.
type EventType string

const (
	EventSessionStatus     EventType = "session.status"
	EventTranscriptPartial EventType = "transcript.partial"
	EventTranscriptUpdated EventType = "transcript.updated"
	EventAlertShown        EventType = "alert.shown"
	EventAlertRemoved      EventType = "alert.removed"
	EventNotification      EventType = "notification"
	EventPanelStatus       EventType = "panel.status"
	EventCloseConfirmation EventType = "panel.close_confirmation"
)

// Event is the envelope for everything a panel publishes.
type Event struct {
	Type      EventType `json:"eventType"`
	PanelID   string    `json:"panelId"`
	PatientID string    `json:"patientId"`
	Timestamp int64     `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// SessionStatus reports a recording session status change.
type SessionStatus struct {
	RunID string `json:"runId,omitempty"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// PanelStatus reports a panel lifecycle change.
type PanelStatus struct {
	Status      string `json:"status"`
	EncounterID string `json:"encounterId,omitempty"`
}

// CloseConfirmation asks the user to pick how a panel with content closes.
type CloseConfirmation struct {
	Choices []string `json:"choices"`
}
