package models

import "time"

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Alert is an ephemeral clinical notification raised from the transcript.
type Alert struct {
	ID                string    `json:"id" yaml:"id"`
	Severity          Severity  `json:"severity" yaml:"severity"`
	Title             string    `json:"title" yaml:"title"`
	Message           string    `json:"message" yaml:"message"`
	Confidence        float64   `json:"confidence" yaml:"confidence"`
	TriggeringFactors []string  `json:"triggeringFactors" yaml:"triggeringFactors"`
	CreatedAt         time.Time `json:"createdAt" yaml:"-"`
}

// AlertRemoved reports a toast leaving the visible queue.
type AlertRemoved struct {
	AlertID string `json:"alertId"`
	Reason  string `json:"reason"` // expired, dismissed, evicted
}
