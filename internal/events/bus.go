package events

import (
	"github.com/rs/zerolog/log"

	"clinical-scribe-service/internal/models"
	"clinical-scribe-service/internal/observability/metrics"
	"clinical-scribe-service/internal/schema"
)

// Bus validates events and forwards them to a fixed set of sinks.
type Bus struct {
	validator *schema.Validator
	sinks     []Sink
	metrics   *metrics.Metrics
}

// NewBus creates a bus. Nil sinks are skipped; a nil validator disables
// validation.
func NewBus(v *schema.Validator, sinks ...Sink) *Bus {
	b := &Bus{validator: v, metrics: metrics.DefaultMetrics}
	for _, s := range sinks {
		if s != nil {
			b.sinks = append(b.sinks, s)
		}
	}
	return b
}

func (b *Bus) Emit(ev models.Event) {
	if b.validator != nil {
		if err := b.validator.Validate(ev); err != nil {
			b.metrics.RecordEventDropped("bus", "invalid")
			log.Error().Err(err).Str("panelId", ev.PanelID).Msg("Dropping invalid event")
			return
		}
	}
	for _, s := range b.sinks {
		s.Emit(ev)
	}
}
