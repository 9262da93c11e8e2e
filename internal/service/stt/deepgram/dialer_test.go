package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-scribe-service/internal/service/stt"
)

var upgrader = websocket.Upgrader{}

type fakeService struct {
	t        *testing.T
	query    chan url.Values
	auth     chan string
	received chan []byte
	script   func(conn *websocket.Conn, received chan<- []byte)
}

func newFakeService(t *testing.T, script func(conn *websocket.Conn, received chan<- []byte)) (*fakeService, *httptest.Server) {
	fs := &fakeService{
		t:        t,
		query:    make(chan url.Values, 1),
		auth:     make(chan string, 1),
		received: make(chan []byte, 16),
		script:   script,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.query <- r.URL.Query()
		fs.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fs.script(conn, fs.received)
	}))
	return fs, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/listen"
}

func collect(t *testing.T, c stt.Connection) []stt.Event {
	t.Helper()
	var out []stt.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream did not terminate")
		}
	}
}

func TestDialer_URL(t *testing.T) {
	d := New("wss://example.test/v1/listen", "key")
	raw, err := d.URL(stt.DefaultOptions())
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "true", q.Get("punctuate"))
	assert.Equal(t, "true", q.Get("interim_results"))
	assert.Equal(t, "true", q.Get("diarize"))
	assert.Equal(t, "3000", q.Get("utterance_end_ms"))
	assert.Equal(t, "true", q.Get("vad_events"))
	assert.Equal(t, "false", q.Get("endpointing"))
	assert.Equal(t, "nova-2-medical", q.Get("model"))
	assert.Equal(t, "16000", q.Get("sample_rate"))
}

func TestConnection_ResultsAndServerClose(t *testing.T) {
	fs, srv := newFakeService(t, func(conn *websocket.Conn, received chan<- []byte) {
		for i := 0; i < 2; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SpeechStarted"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"patient","confidence":0.5,"words":[{"word":"patient","speaker":1}]}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Patient reports fever","confidence":0.93,"words":[{"word":"patient","speaker":1}]}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"UtteranceEnd"}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(1011, "internal"))
		time.Sleep(50 * time.Millisecond)
	})
	defer srv.Close()

	c, err := New(wsURL(srv), "secret").Open(context.Background(), stt.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "Token secret", <-fs.auth)
	assert.Equal(t, "false", (<-fs.query).Get("endpointing"))

	require.NoError(t, c.KeepAlive(context.Background()))
	require.NoError(t, c.SendAudio(context.Background(), []byte{1, 2, 3}))

	events := collect(t, c)
	assert.JSONEq(t, `{"type":"KeepAlive"}`, string(<-fs.received))
	assert.Equal(t, []byte{1, 2, 3}, <-fs.received)

	kinds := make([]stt.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []stt.EventKind{
		stt.EventOpened, stt.EventSpeechStarted, stt.EventPartial, stt.EventFinal,
		stt.EventUtteranceEnd, stt.EventClosed,
	}, kinds)

	final := events[3]
	assert.Equal(t, "Patient reports fever", final.Text)
	require.NotNil(t, final.Speaker)
	assert.Equal(t, 1, *final.Speaker)
	assert.Equal(t, 1011, events[5].Code)
}

func TestConnection_AbruptDropIsAbnormal(t *testing.T) {
	_, srv := newFakeService(t, func(conn *websocket.Conn, received chan<- []byte) {
		conn.UnderlyingConn().Close()
	})
	defer srv.Close()

	c, err := New(wsURL(srv), "k").Open(context.Background(), stt.DefaultOptions())
	require.NoError(t, err)

	events := collect(t, c)
	last := events[len(events)-1]
	assert.Equal(t, stt.EventClosed, last.Kind)
	assert.Equal(t, stt.CloseAbnormal, last.Code)
	assert.False(t, stt.IsNormalClosure(last.Code))
}

func TestConnection_LocalCloseReportsNormal(t *testing.T) {
	_, srv := newFakeService(t, func(conn *websocket.Conn, received chan<- []byte) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c, err := New(wsURL(srv), "k").Open(context.Background(), stt.DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, c.Close(stt.CloseNormal, "stopped"))
	assert.NoError(t, c.Close(stt.CloseNormal, "again"))
	assert.ErrorIs(t, c.SendAudio(context.Background(), []byte{1}), stt.ErrClosed)

	events := collect(t, c)
	last := events[len(events)-1]
	assert.Equal(t, stt.EventClosed, last.Kind)
	assert.True(t, stt.IsNormalClosure(last.Code))
}

func TestConnection_ErrorMessage(t *testing.T) {
	_, srv := newFakeService(t, func(conn *websocket.Conn, received chan<- []byte) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","description":"bad audio"}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(1008, "policy"))
		time.Sleep(50 * time.Millisecond)
	})
	defer srv.Close()

	c, err := New(wsURL(srv), "k").Open(context.Background(), stt.DefaultOptions())
	require.NoError(t, err)

	events := collect(t, c)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, stt.EventError, events[1].Kind)
	assert.ErrorIs(t, events[1].Err, stt.ErrConnection)
	assert.Contains(t, events[1].Err.Error(), "bad audio")
}

func TestDialer_HandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(wsURL(srv), "bad").Open(context.Background(), stt.DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, stt.ErrConnection)
	assert.Contains(t, err.Error(), "401")
}
