// Package schema validates outbound panel events before they leave the
// process.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"clinical-scribe-service/internal/models"
)

var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the envelope and that the payload type matches the
// event type.
func (v *Validator) Validate(ev models.Event) error {
	if ev.Type == "" {
		return fmt.Errorf("%w: missing eventType", ErrInvalidEvent)
	}
	if ev.PanelID == "" {
		return fmt.Errorf("%w: %s missing panelId", ErrInvalidEvent, ev.Type)
	}
	if ev.Timestamp <= 0 {
		return fmt.Errorf("%w: %s missing timestamp", ErrInvalidEvent, ev.Type)
	}

	var ok bool
	switch ev.Type {
	case models.EventSessionStatus:
		_, ok = ev.Payload.(models.SessionStatus)
	case models.EventTranscriptPartial:
		_, ok = ev.Payload.(models.TranscriptPartial)
	case models.EventTranscriptUpdated:
		_, ok = ev.Payload.(models.TranscriptUpdated)
	case models.EventAlertShown:
		var a models.Alert
		a, ok = ev.Payload.(models.Alert)
		if ok && (a.ID == "" || !a.Severity.Valid() || a.Confidence < 0 || a.Confidence > 1) {
			return fmt.Errorf("%w: malformed alert %q", ErrInvalidEvent, a.ID)
		}
	case models.EventAlertRemoved:
		_, ok = ev.Payload.(models.AlertRemoved)
	case models.EventNotification:
		var n models.Notification
		n, ok = ev.Payload.(models.Notification)
		if ok && n.Code == "" {
			return fmt.Errorf("%w: notification without code", ErrInvalidEvent)
		}
	case models.EventPanelStatus:
		_, ok = ev.Payload.(models.PanelStatus)
	case models.EventCloseConfirmation:
		_, ok = ev.Payload.(models.CloseConfirmation)
	default:
		return fmt.Errorf("%w: unknown eventType %q", ErrInvalidEvent, ev.Type)
	}
	if !ok {
		return fmt.Errorf("%w: %s payload has type %T", ErrInvalidEvent, ev.Type, ev.Payload)
	}

	log.Trace().Str("eventType", string(ev.Type)).Str("panelId", ev.PanelID).Msg("schema validated")
	return nil
}
