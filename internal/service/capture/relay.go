package capture

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Relay is a Device fed by a remote client (the browser panel) that owns
// the physical microphone and forwards its PCM frames over the panel
// socket. The client reports permission state with Grant and Deny.
type Relay struct {
	mu       sync.Mutex
	attached bool
	attachID int64
	denied   bool
	sink     func([]byte)
	track    *relayTrack
}

func NewRelay() *Relay {
	return &Relay{}
}

// Attach marks a client as connected and returns its attachment id. A
// newer Attach supersedes earlier ones.
func (r *Relay) Attach() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = true
	r.attachID++
	return r.attachID
}

// Detach marks the client gone and stops the current track.
func (r *Relay) Detach() {
	r.mu.Lock()
	r.attached = false
	t := r.track
	r.mu.Unlock()

	if t != nil {
		t.Stop()
	}
}

// DetachIfCurrent detaches only when id is the latest attachment, so a
// client that already reconnected is not cut off by the old one leaving.
// It reports whether it detached.
func (r *Relay) DetachIfCurrent(id int64) bool {
	r.mu.Lock()
	current := r.attached && r.attachID == id
	r.mu.Unlock()
	if !current {
		return false
	}
	r.Detach()
	return true
}

// Deny records that the client refused microphone access.
func (r *Relay) Deny() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denied = true
}

// Grant clears a previous Deny.
func (r *Relay) Grant() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denied = false
}

func (r *Relay) Open(ctx context.Context, sink func([]byte)) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.denied {
		return nil, ErrPermissionDenied
	}
	if !r.attached {
		return nil, ErrDeviceUnavailable
	}
	if r.track != nil {
		r.track.stopLocked()
	}
	r.track = &relayTrack{relay: r, id: uuid.NewString(), live: true}
	r.sink = sink
	return []Track{r.track}, nil
}

// Push delivers one frame from the client. It reports false when no live,
// unpaused track is open.
func (r *Relay) Push(frame []byte) bool {
	r.mu.Lock()
	t, sink := r.track, r.sink
	if t == nil || !t.live || t.paused || sink == nil {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	sink(frame)
	return true
}

type relayTrack struct {
	relay  *Relay
	id     string
	live   bool
	paused bool
}

func (t *relayTrack) ID() string { return t.id }

func (t *relayTrack) Live() bool {
	t.relay.mu.Lock()
	defer t.relay.mu.Unlock()
	return t.live
}

func (t *relayTrack) Stop() {
	t.relay.mu.Lock()
	defer t.relay.mu.Unlock()
	t.stopLocked()
}

func (t *relayTrack) stopLocked() {
	t.live = false
	if t.relay.track == t {
		t.relay.track = nil
		t.relay.sink = nil
	}
}

func (t *relayTrack) Pause() {
	t.relay.mu.Lock()
	defer t.relay.mu.Unlock()
	t.paused = true
}

func (t *relayTrack) Resume() {
	t.relay.mu.Lock()
	defer t.relay.mu.Unlock()
	t.paused = false
}
