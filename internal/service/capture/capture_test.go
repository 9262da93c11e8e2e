package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrack struct {
	mu    sync.Mutex
	live  bool
	stops int
}

func (t *fakeTrack) ID() string { return "fake" }
func (t *fakeTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = false
	t.stops++
}

type fakeDevice struct {
	err    error
	tracks []*fakeTrack
	sink   func([]byte)
}

func (d *fakeDevice) Open(ctx context.Context, sink func([]byte)) ([]Track, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.sink = sink
	t := &fakeTrack{live: true}
	d.tracks = append(d.tracks, t)
	return []Track{t}, nil
}

func TestAdapter_AcquireErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"permission", ErrPermissionDenied, ErrPermissionDenied},
		{"unavailable", ErrDeviceUnavailable, ErrDeviceUnavailable},
		{"wrapped permission", errors.Join(errors.New("browser"), ErrPermissionDenied), ErrPermissionDenied},
		{"other", errors.New("usb unplugged"), ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(&fakeDevice{err: tt.err}, 0)
			s, err := a.Acquire(context.Background())
			assert.Nil(t, s)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAdapter_ReleaseIsIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	a := NewAdapter(dev, 0)

	s, err := a.Acquire(context.Background())
	require.NoError(t, err)

	a.Release(s)
	a.Release(s)
	a.Release(nil)

	assert.True(t, s.Closed())
	assert.Equal(t, 1, dev.tracks[0].stops, "track stopped exactly once")
	acq, rel := a.Counts()
	assert.Equal(t, int64(1), acq)
	assert.Equal(t, int64(1), rel)
}

func TestAdapter_ReleaseSkipsDeadTracks(t *testing.T) {
	dev := &fakeDevice{}
	a := NewAdapter(dev, 0)
	s, err := a.Acquire(context.Background())
	require.NoError(t, err)

	dev.tracks[0].Stop()
	a.Release(s)

	assert.Equal(t, 1, dev.tracks[0].stops)
}

func TestStream_NoAudioAfterRelease(t *testing.T) {
	dev := &fakeDevice{}
	a := NewAdapter(dev, 0)
	s, err := a.Acquire(context.Background())
	require.NoError(t, err)

	dev.sink([]byte{1, 2})
	a.Release(s)
	dev.sink([]byte{3, 4})

	assert.Nil(t, s.Drain())
}

func TestStream_PauseDropsFrames(t *testing.T) {
	dev := &fakeDevice{}
	s, err := NewAdapter(dev, 0).Acquire(context.Background())
	require.NoError(t, err)

	dev.sink([]byte{1})
	s.Pause()
	assert.True(t, s.Paused())
	dev.sink([]byte{2})
	s.Resume()
	dev.sink([]byte{3})

	assert.Equal(t, []byte{1, 3}, s.Drain())
	assert.Nil(t, s.Drain())
}

func TestStream_Backpressure(t *testing.T) {
	dev := &fakeDevice{}
	s, err := NewAdapter(dev, 4).Acquire(context.Background())
	require.NoError(t, err)

	dev.sink([]byte{1, 2, 3})
	dev.sink([]byte{4, 5})
	dev.sink([]byte{6})

	assert.Equal(t, 4, s.Buffered())
	assert.Equal(t, []byte{1, 2, 3, 6}, s.Drain())
}

func TestRelay_Lifecycle(t *testing.T) {
	r := NewRelay()
	a := NewAdapter(r, 0)

	_, err := a.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable, "no client attached")

	r.Attach()
	r.Deny()
	_, err = a.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)

	r.Grant()
	s, err := a.Acquire(context.Background())
	require.NoError(t, err)

	assert.True(t, r.Push([]byte{1}))
	s.Pause()
	assert.False(t, r.Push([]byte{2}), "paused track refuses frames")
	s.Resume()
	assert.True(t, r.Push([]byte{3}))
	assert.Equal(t, []byte{1, 3}, s.Drain())

	a.Release(s)
	assert.False(t, r.Push([]byte{4}))
}

func TestRelay_DetachStopsTrack(t *testing.T) {
	r := NewRelay()
	r.Attach()
	tracks, err := r.Open(context.Background(), func([]byte) {})
	require.NoError(t, err)

	r.Detach()
	assert.False(t, tracks[0].Live())
	assert.False(t, r.Push([]byte{1}))
}

func TestRelay_StaleDetachKeepsNewClient(t *testing.T) {
	r := NewRelay()
	a := NewAdapter(r, 0)
	first := r.Attach()
	s, err := a.Acquire(context.Background())
	require.NoError(t, err)

	second := r.Attach()
	assert.False(t, r.DetachIfCurrent(first), "superseded attachment must not detach")
	assert.True(t, s.Live())
	assert.True(t, r.Push([]byte{1}))

	assert.True(t, r.DetachIfCurrent(second))
	assert.False(t, s.Live())
	assert.False(t, r.Push([]byte{2}))
	assert.False(t, r.DetachIfCurrent(second), "already detached")
}

func TestStream_LiveAfterRelease(t *testing.T) {
	r := NewRelay()
	r.Attach()
	a := NewAdapter(r, 0)
	s, err := a.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, s.Live())

	a.Release(s)
	assert.False(t, s.Live())
}

func writeWAV(t *testing.T, pcm []byte) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))    // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))    // mono
	binary.Write(&buf, binary.LittleEndian, uint32(8000)) // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(16000))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	path := filepath.Join(t.TempDir(), "sample.wav")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestReadWAVHeader(t *testing.T) {
	path := writeWAV(t, nil)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	format, err := ReadWAVHeader(f)
	require.NoError(t, err)
	assert.Equal(t, Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}, format)
	assert.Equal(t, 1600, format.BytesPer(100*time.Millisecond))

	_, err = ReadWAVHeader(bytes.NewReader(make([]byte, 44)))
	assert.Error(t, err)
}

func TestWAVDevice_PlaysWholeFile(t *testing.T) {
	pcm := make([]byte, 4000)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	dev := NewWAVDevice(writeWAV(t, pcm))
	dev.Interval = 5 * time.Millisecond

	s, err := NewAdapter(dev, 0).Acquire(context.Background())
	require.NoError(t, err)

	select {
	case <-dev.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("WAV playback did not finish")
	}
	assert.Equal(t, pcm, s.Drain())
}

func TestWAVDevice_MissingFile(t *testing.T) {
	dev := NewWAVDevice(filepath.Join(t.TempDir(), "missing.wav"))
	_, err := NewAdapter(dev, 0).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}
