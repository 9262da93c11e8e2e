// Package stt defines the streaming speech-to-text connection used by a
// recording session. Providers live in subpackages.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// Close codes reported in Closed events. They follow the WebSocket close
// code registry regardless of the provider transport.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// IsNormalClosure reports whether code ends a connection on purpose.
func IsNormalClosure(code int) bool {
	return code == CloseNormal || code == CloseGoingAway
}

var (
	// ErrConnection wraps failures to open or use a recognition connection.
	ErrConnection = errors.New("transcription connection error")
	// ErrClosed is returned when writing to a connection after Close.
	ErrClosed = errors.New("transcription connection closed")
)

// EventKind identifies a recognition event.
type EventKind int

const (
	EventOpened EventKind = iota
	EventPartial
	EventFinal
	EventSpeechStarted
	EventUtteranceEnd
	EventClosed
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "OPENED"
	case EventPartial:
		return "PARTIAL"
	case EventFinal:
		return "FINAL"
	case EventSpeechStarted:
		return "SPEECH_STARTED"
	case EventUtteranceEnd:
		return "UTTERANCE_END"
	case EventClosed:
		return "CLOSED"
	case EventError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", k)
	}
}

// Event is emitted by a Connection.
//
// Text, Speaker and Confidence are set for Partial and Final. Code and
// Reason are set for Closed. Err is set for Error.
type Event struct {
	Kind       EventKind
	Text       string
	Speaker    *int
	Confidence float64
	Code       int
	Reason     string
	Err        error
}

// Speaker returns a pointer to id for Event.Speaker.
func Speaker(id int) *int {
	return &id
}

// Options configures a recognition connection.
type Options struct {
	Model          string
	Language       string
	Encoding       string
	SampleRate     int
	Channels       int
	Punctuate      bool
	InterimResults bool
	Diarize        bool
	UtteranceEndMs int
	VADEvents      bool
	Endpointing    bool
}

// DefaultOptions returns the consultation defaults: punctuation, interim
// results, diarization and VAD events on, a 3s utterance-end threshold and
// service-side endpointing off.
func DefaultOptions() Options {
	return Options{
		Model:          "nova-2-medical",
		Language:       "en-US",
		Encoding:       "linear16",
		SampleRate:     16000,
		Channels:       1,
		Punctuate:      true,
		InterimResults: true,
		Diarize:        true,
		UtteranceEndMs: 3000,
		VADEvents:      true,
		Endpointing:    false,
	}
}

// Connection is an open streaming recognition connection.
//
// Events delivers EventOpened first. The stream ends with EventClosed,
// possibly preceded by EventError, after which the channel is closed.
// Consumers must drain Events until it is closed.
type Connection interface {
	Events() <-chan Event
	SendAudio(ctx context.Context, audio []byte) error
	KeepAlive(ctx context.Context) error
	Close(code int, reason string) error
}

// Dialer opens recognition connections for one provider.
type Dialer interface {
	Name() string
	Open(ctx context.Context, opts Options) (Connection, error)
}
