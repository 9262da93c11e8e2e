// Package capture acquires and releases microphone streams.
//
// A Device produces raw PCM frames into a sink; the Adapter wraps every
// acquisition in a Stream that buffers frames between forwards and owns the
// device tracks until Release.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"clinical-scribe-service/internal/observability/metrics"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// Track is one hardware input opened by a Device.
type Track interface {
	ID() string
	Live() bool
	Stop()
}

// Pauser is implemented by tracks that can suspend recording without
// being stopped.
type Pauser interface {
	Pause()
	Resume()
}

// Device opens tracks that deliver audio frames to sink until stopped.
// Open returns errors wrapping ErrPermissionDenied or ErrDeviceUnavailable.
type Device interface {
	Open(ctx context.Context, sink func(frame []byte)) ([]Track, error)
}

// Adapter hands out Streams over a Device.
type Adapter struct {
	device      Device
	maxBuffered int
	metrics     *metrics.Metrics

	acquired atomic.Int64
	released atomic.Int64
}

// NewAdapter creates an adapter. maxBuffered caps the bytes a Stream holds
// between drains; zero means unbounded.
func NewAdapter(d Device, maxBuffered int) *Adapter {
	return &Adapter{
		device:      d,
		maxBuffered: maxBuffered,
		metrics:     metrics.DefaultMetrics,
	}
}

// Acquire opens the device and returns a live Stream.
func (a *Adapter) Acquire(ctx context.Context) (*Stream, error) {
	s := &Stream{
		id:          uuid.NewString(),
		maxBuffered: a.maxBuffered,
		metrics:     a.metrics,
	}

	tracks, err := a.device.Open(ctx, s.write)
	if err != nil {
		switch {
		case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceUnavailable):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no input tracks", ErrDeviceUnavailable)
	}

	s.mu.Lock()
	s.tracks = tracks
	s.mu.Unlock()

	a.acquired.Add(1)
	log.Debug().Str("streamId", s.id).Int("tracks", len(tracks)).Msg("Audio stream acquired")
	return s, nil
}

// Release stops every live track of s and closes it. Releasing an already
// released stream is a no-op.
func (a *Adapter) Release(s *Stream) {
	if s == nil {
		return
	}
	if s.close() {
		a.released.Add(1)
		log.Debug().Str("streamId", s.id).Msg("Audio stream released")
	}
}

// Counts returns how many streams were acquired and released.
func (a *Adapter) Counts() (acquired, released int64) {
	return a.acquired.Load(), a.released.Load()
}

// Stream is an acquired capture handle. Frames written while paused, after
// release, or beyond the buffer cap are dropped.
type Stream struct {
	id          string
	maxBuffered int
	metrics     *metrics.Metrics

	mu     sync.Mutex
	tracks []Track
	buf    []byte
	paused bool
	closed bool
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) write(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return
	case s.paused:
		s.metrics.RecordAudioDropped("paused", len(frame))
		return
	case s.maxBuffered > 0 && len(s.buf)+len(frame) > s.maxBuffered:
		s.metrics.RecordAudioDropped("backpressure", len(frame))
		return
	}
	s.buf = append(s.buf, frame...)
	s.metrics.RecordAudioCaptured(len(frame))
}

// Drain returns and clears the buffered audio.
func (s *Stream) Drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil
	}
	out := s.buf
	s.buf = nil
	return out
}

// Buffered returns the number of bytes waiting to be drained.
func (s *Stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Pause suspends recording on every track that supports it.
func (s *Stream) Pause() {
	s.mu.Lock()
	if s.closed || s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	tracks := s.tracks
	s.mu.Unlock()

	for _, t := range tracks {
		if p, ok := t.(Pauser); ok {
			p.Pause()
		}
	}
}

// Resume restarts recording after Pause.
func (s *Stream) Resume() {
	s.mu.Lock()
	if s.closed || !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	tracks := s.tracks
	s.mu.Unlock()

	for _, t := range tracks {
		if p, ok := t.(Pauser); ok {
			p.Resume()
		}
	}
}

func (s *Stream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Live reports whether the stream is open and at least one track is still
// delivering audio.
func (s *Stream) Live() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	tracks := s.tracks
	s.mu.Unlock()

	for _, t := range tracks {
		if t.Live() {
			return true
		}
	}
	return false
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close reports whether this call performed the release.
func (s *Stream) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.buf = nil
	tracks := s.tracks
	s.mu.Unlock()

	for _, t := range tracks {
		if t.Live() {
			t.Stop()
		}
	}
	return true
}
