// Package mock provides a scripted recognition provider for offline runs
// and tests. Each audio chunk advances the script: partials first, then
// one final and an utterance end per utterance.
package mock

import (
	"context"
	"fmt"
	"sync"

	"clinical-scribe-service/internal/service/stt"
)

// Utterance is one scripted speaker turn.
type Utterance struct {
	Speaker    *int
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultScript is a short clinician/patient exchange.
var DefaultScript = []Utterance{
	{
		Speaker:    stt.Speaker(0),
		Partials:   []string{"What brings", "What brings you in"},
		Final:      "What brings you in today?",
		Confidence: 0.95,
	},
	{
		Speaker:    stt.Speaker(1),
		Partials:   []string{"I've had", "I've had a fever"},
		Final:      "I've had a fever since Tuesday.",
		Confidence: 0.92,
	},
	{
		Speaker:    stt.Speaker(1),
		Partials:   []string{"And some"},
		Final:      "And some chest pain when I breathe in.",
		Confidence: 0.9,
	},
	{
		Speaker:    stt.Speaker(0),
		Partials:   []string{"Any allergies"},
		Final:      "Any allergies to medications?",
		Confidence: 0.96,
	},
}

// Dialer hands out scripted connections and records them for inspection.
type Dialer struct {
	mu       sync.Mutex
	script   []Utterance
	conns    []*Connection
	failures []error
}

// New creates a dialer playing script, or DefaultScript when empty.
func New(script ...Utterance) *Dialer {
	if len(script) == 0 {
		script = DefaultScript
	}
	return &Dialer{script: script}
}

func (d *Dialer) Name() string { return "mock" }

// FailNextOpen makes the next Open return err.
func (d *Dialer) FailNextOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, err)
}

func (d *Dialer) Open(ctx context.Context, opts stt.Options) (stt.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return nil, fmt.Errorf("%w: %v", stt.ErrConnection, err)
	}

	c := &Connection{
		script: d.script,
		opts:   opts,
		events: make(chan stt.Event, 256),
	}
	c.events <- stt.Event{Kind: stt.EventOpened}
	d.conns = append(d.conns, c)
	return c, nil
}

// Opens returns the number of successful Open calls.
func (d *Dialer) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Connection is a scripted stt.Connection.
type Connection struct {
	script []Utterance
	opts   stt.Options
	events chan stt.Event

	mu           sync.Mutex
	closed       bool
	closeCode    int
	utterance    int
	partialIndex int
	audioBytes   int
	chunks       int
	keepAlives   int
}

func (c *Connection) Events() <-chan stt.Event { return c.events }

// Options returns the options the connection was opened with.
func (c *Connection) Options() stt.Options { return c.opts }

// SendAudio advances the script by one step per chunk.
func (c *Connection) SendAudio(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return stt.ErrClosed
	}
	c.audioBytes += len(audio)
	c.chunks++

	if c.utterance >= len(c.script) {
		return nil
	}
	utt := c.script[c.utterance]
	if c.partialIndex < len(utt.Partials) {
		c.events <- stt.Event{Kind: stt.EventPartial, Text: utt.Partials[c.partialIndex], Speaker: utt.Speaker}
		c.partialIndex++
		return nil
	}

	c.events <- stt.Event{Kind: stt.EventFinal, Text: utt.Final, Speaker: utt.Speaker, Confidence: utt.Confidence}
	c.events <- stt.Event{Kind: stt.EventUtteranceEnd}
	c.utterance++
	c.partialIndex = 0
	return nil
}

func (c *Connection) KeepAlive(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return stt.ErrClosed
	}
	c.keepAlives++
	return nil
}

// Close ends the connection with a local close code.
func (c *Connection) Close(code int, reason string) error {
	c.terminate(nil, code, reason)
	return nil
}

// Emit injects an event as if the service had sent it.
func (c *Connection) Emit(ev stt.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

// Drop simulates the service closing the connection with code.
func (c *Connection) Drop(code int, reason string) {
	c.terminate(nil, code, reason)
}

// Fail simulates a fatal service error.
func (c *Connection) Fail(err error) {
	c.terminate(fmt.Errorf("%w: %v", stt.ErrConnection, err), 1011, err.Error())
}

func (c *Connection) terminate(err error, code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	if err != nil {
		c.events <- stt.Event{Kind: stt.EventError, Err: err}
	}
	c.events <- stt.Event{Kind: stt.EventClosed, Code: code, Reason: reason}
	close(c.events)
}

// Closed reports whether the connection ended and with which code.
func (c *Connection) Closed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

// Stats returns audio bytes, audio chunks and keep-alives received.
func (c *Connection) Stats() (audioBytes, chunks, keepAlives int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioBytes, c.chunks, c.keepAlives
}
