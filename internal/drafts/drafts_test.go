package drafts

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-scribe-service/internal/clock"
)

type countingStore struct {
	mu    sync.Mutex
	inner Store
	saves []string
	fail  error
}

func (s *countingStore) Load(ctx context.Context, id string) (*Draft, error) {
	return s.inner.Load(ctx, id)
}

func (s *countingStore) Save(ctx context.Context, id string, d Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.saves = append(s.saves, d.TranscriptText)
	return s.inner.Save(ctx, id, d)
}

func (s *countingStore) Delete(ctx context.Context, id string) error {
	return s.inner.Delete(ctx, id)
}

func (s *countingStore) saved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saves...)
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestDraftID(t *testing.T) {
	assert.Equal(t, "draft:p-1:e-1", DraftID("p-1", "e-1"))
	assert.Equal(t, "draft:p-1:new", DraftID("p-1", ""))
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	id := DraftID("p/1", "")

	_, err := s.Load(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, id, Draft{TranscriptText: "Speaker 0: hello"}))
	require.NoError(t, s.Save(ctx, id, Draft{TranscriptText: "Speaker 0: hello again"}))

	d, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Speaker 0: hello again", d.TranscriptText)

	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, id), "deleting a missing draft is fine")
	_, err = s.Load(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAutosaver_Debounce(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	cs := &countingStore{inner: newFileStore(t)}
	a := NewAutosaver(cs, "d", clk, 500*time.Millisecond)

	a.Schedule("a")
	clk.Advance(300 * time.Millisecond)
	a.Schedule("ab")
	clk.Advance(300 * time.Millisecond)
	assert.Empty(t, cs.saved(), "window restarts on every change")

	clk.Advance(200 * time.Millisecond)
	assert.Equal(t, []string{"ab"}, cs.saved())

	clk.Advance(time.Second)
	assert.Len(t, cs.saved(), 1)
}

// Write, abrupt unmount without flushing, remount with the same id.
func TestAutosaver_RecoveryAfterAbruptUnmount(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(0, 0))
	s := newFileStore(t)
	id := DraftID("p-1", "e-1")

	a := NewAutosaver(s, id, clk, 500*time.Millisecond)
	a.Schedule("Speaker 1: I've had a fever")
	a.Schedule("Speaker 1: I've had a fever since Tuesday.")
	clk.Advance(500 * time.Millisecond)

	text, err := Recover(ctx, s, id)
	require.NoError(t, err)
	assert.Equal(t, "Speaker 1: I've had a fever since Tuesday.", text)

	empty, err := Recover(ctx, s, DraftID("p-1", "other"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAutosaver_FlushStopClear(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(0, 0))
	cs := &countingStore{inner: newFileStore(t)}
	a := NewAutosaver(cs, "d", clk, 0)

	a.Schedule("now")
	require.NoError(t, a.Flush(ctx))
	assert.Equal(t, []string{"now"}, cs.saved())
	assert.Empty(t, clk.Pending())
	require.NoError(t, a.Flush(ctx), "nothing pending")
	assert.Len(t, cs.saved(), 1)

	a.Schedule("dropped")
	require.NoError(t, a.Clear(ctx))
	clk.Advance(time.Second)
	assert.Len(t, cs.saved(), 1)

	_, err := cs.Load(ctx, "d")
	assert.ErrorIs(t, err, ErrNotFound)

	a.Schedule("after stop")
	assert.Empty(t, clk.Pending())
}

func TestAutosaver_FailedWriteIsRetriedOnFlush(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(0, 0))
	cs := &countingStore{inner: newFileStore(t), fail: errors.New("disk full")}
	a := NewAutosaver(cs, "d", clk, 500*time.Millisecond)

	a.Schedule("keep me")
	clk.Advance(500 * time.Millisecond)
	assert.Empty(t, cs.saved())

	cs.mu.Lock()
	cs.fail = nil
	cs.mu.Unlock()

	require.NoError(t, a.Flush(ctx))
	assert.Equal(t, []string{"keep me"}, cs.saved())
}

// Runs against a real server when TEST_REDIS_ADDR is set.
func TestRedisStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := DialRedis(ctx, addr, 0)
	require.NoError(t, err)
	defer client.Close()

	s := NewRedisStore(client, time.Minute)
	id := DraftID("redis-test", "")
	defer s.Delete(ctx, id)

	require.NoError(t, s.Save(ctx, id, Draft{TranscriptText: "hello"}))
	d, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", d.TranscriptText)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Load(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
