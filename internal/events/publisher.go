// Package events fans panel events out to browser subscribers and to Kafka.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"clinical-scribe-service/internal/models"
	"clinical-scribe-service/internal/observability/metrics"
)

const queueSize = 1024

// Publisher publishes panel events to Kafka, one topic per event family.
// Emit is asynchronous; Publish writes synchronously.
type Publisher struct {
	writerTranscript *kafka.Writer
	writerAlerts     *kafka.Writer
	writerSession    *kafka.Writer
	principal        string
	topicTranscript  string
	topicAlerts      string
	topicSession     string
	enabled          bool
	metrics          *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan models.Event
	done   chan struct{}
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicTranscript string
	TopicAlerts     string
	TopicSession    string
	Principal       string
	Enabled         bool
}

// New creates a Kafka event publisher. With a nil config, Kafka disabled or
// no brokers it runs in log-only mode.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:       cfg.Principal,
			topicTranscript: cfg.TopicTranscript,
			topicAlerts:     cfg.TopicAlerts,
			topicSession:    cfg.TopicSession,
			metrics:         m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("topicAlerts", cfg.TopicAlerts).
		Str("topicSession", cfg.TopicSession).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	p := &Publisher{
		writerTranscript: newWriter(cfg.TopicTranscript),
		writerAlerts:     newWriter(cfg.TopicAlerts),
		writerSession:    newWriter(cfg.TopicSession),
		principal:        cfg.Principal,
		topicTranscript:  cfg.TopicTranscript,
		topicAlerts:      cfg.TopicAlerts,
		topicSession:     cfg.TopicSession,
		enabled:          true,
		metrics:          m,
		queue:            make(chan models.Event, queueSize),
		done:             make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = p.Publish(ctx, ev)
		cancel()
	}
}

// Emit queues ev for publishing. Events are dropped when the queue is full
// or the publisher is closed; transcription never waits on Kafka.
func (p *Publisher) Emit(ev models.Event) {
	if !p.enabled {
		_ = p.Publish(context.Background(), ev)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.RecordEventDropped("kafka", "closed")
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.metrics.RecordEventDropped("kafka", "queue_full")
		log.Warn().Str("eventType", string(ev.Type)).Str("panelId", ev.PanelID).Msg("Kafka queue full, dropping event")
	}
}

// Publish writes ev to its topic, keyed by panel so a panel's events stay
// ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, ev models.Event) error {
	writer, topic := p.route(ev.Type)
	return p.publish(ctx, writer, topic, string(ev.Type), ev.PanelID, ev)
}

func (p *Publisher) route(t models.EventType) (*kafka.Writer, string) {
	switch t {
	case models.EventTranscriptPartial, models.EventTranscriptUpdated:
		return p.writerTranscript, p.topicTranscript
	case models.EventAlertShown, models.EventAlertRemoved:
		return p.writerAlerts, p.topicAlerts
	default:
		return p.writerSession, p.topicSession
	}
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close drains queued events and closes the Kafka writers.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.queue != nil {
		close(p.queue)
	}
	p.mu.Unlock()

	if p.done != nil {
		<-p.done
	}

	var err error
	for name, w := range map[string]*kafka.Writer{
		"transcript": p.writerTranscript,
		"alerts":     p.writerAlerts,
		"session":    p.writerSession,
	} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("writer", name).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
