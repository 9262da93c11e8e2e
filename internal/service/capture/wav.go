package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"clinical-scribe-service/internal/clock"
)

// WAV header is 44 bytes for standard PCM files.
const wavHeaderSize = 44

// Format describes PCM audio.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPer returns the number of bytes covering d of audio.
func (f Format) BytesPer(d time.Duration) int {
	n := int(int64(f.SampleRate) * int64(f.Channels) * int64(f.BitsPerSample/8) * int64(d) / int64(time.Second))
	if align := f.Channels * f.BitsPerSample / 8; align > 0 {
		n -= n % align
	}
	return n
}

// ReadWAVHeader validates a canonical 44-byte PCM WAV header.
func ReadWAVHeader(r io.Reader) (Format, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Format{}, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return Format{}, fmt.Errorf("not a valid WAV file")
	}
	if audioFormat := binary.LittleEndian.Uint16(header[20:22]); audioFormat != 1 {
		return Format{}, fmt.Errorf("only PCM format supported, got %d", audioFormat)
	}
	return Format{
		Channels:      int(binary.LittleEndian.Uint16(header[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(header[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(header[34:36])),
	}, nil
}

// WAVDevice plays a PCM WAV file as if it were a microphone, one chunk
// per interval.
type WAVDevice struct {
	Path     string
	Interval time.Duration
	Clock    clock.Clock

	done chan struct{}
	once sync.Once
}

// NewWAVDevice creates a device for path with 100ms chunks.
func NewWAVDevice(path string) *WAVDevice {
	return &WAVDevice{
		Path:     path,
		Interval: 100 * time.Millisecond,
		Clock:    clock.Real(),
		done:     make(chan struct{}),
	}
}

// Done is closed once the file has been fully played.
func (d *WAVDevice) Done() <-chan struct{} {
	return d.done
}

func (d *WAVDevice) Open(ctx context.Context, sink func([]byte)) ([]Track, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	format, err := ReadWAVHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	log.Info().
		Str("path", d.Path).
		Int("sampleRate", format.SampleRate).
		Int("channels", format.Channels).
		Int("bitsPerSample", format.BitsPerSample).
		Msg("WAV device opened")

	chunk := format.BytesPer(d.Interval)
	if chunk <= 0 {
		chunk = 1600
	}
	t := &wavTrack{id: uuid.NewString(), live: true, stop: make(chan struct{})}
	go d.play(f, chunk, sink, t)
	return []Track{t}, nil
}

func (d *WAVDevice) play(f *os.File, chunk int, sink func([]byte), t *wavTrack) {
	defer f.Close()
	ticker := d.Clock.NewTicker(d.Interval)
	defer ticker.Stop()

	buf := make([]byte, chunk)
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C():
		}
		if t.isPaused() {
			continue
		}
		n, err := f.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			sink(frame)
		}
		if err == io.EOF {
			d.once.Do(func() { close(d.done) })
			return
		}
		if err != nil {
			log.Error().Err(err).Str("path", d.Path).Msg("WAV read failed")
			d.once.Do(func() { close(d.done) })
			return
		}
	}
}

type wavTrack struct {
	id     string
	mu     sync.Mutex
	live   bool
	paused bool
	stop   chan struct{}
}

func (t *wavTrack) ID() string { return t.id }

func (t *wavTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *wavTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live {
		t.live = false
		close(t.stop)
	}
}

func (t *wavTrack) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

func (t *wavTrack) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

func (t *wavTrack) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}
