// Package deepgram provides a streaming recognition connection over the
// Deepgram live WebSocket protocol.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clinical-scribe-service/internal/service/stt"
)

const DefaultURL = "wss://api.deepgram.com/v1/listen"

var keepAliveMsg = []byte(`{"type":"KeepAlive"}`)

// Dialer opens Deepgram live connections.
type Dialer struct {
	url    string
	apiKey string
	ws     *websocket.Dialer
}

// New creates a dialer. An empty baseURL uses DefaultURL.
func New(baseURL, apiKey string) *Dialer {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Dialer{
		url:    baseURL,
		apiKey: apiKey,
		ws:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (d *Dialer) Name() string { return "deepgram" }

// URL returns the listen URL for opts.
func (d *Dialer) URL(opts stt.Options) (string, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return "", fmt.Errorf("parse listen URL: %w", err)
	}
	q := u.Query()
	if opts.Model != "" {
		q.Set("model", opts.Model)
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	if opts.Encoding != "" {
		q.Set("encoding", opts.Encoding)
	}
	if opts.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	}
	if opts.Channels > 0 {
		q.Set("channels", strconv.Itoa(opts.Channels))
	}
	q.Set("punctuate", strconv.FormatBool(opts.Punctuate))
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	q.Set("diarize", strconv.FormatBool(opts.Diarize))
	if opts.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(opts.UtteranceEndMs))
	}
	q.Set("vad_events", strconv.FormatBool(opts.VADEvents))
	q.Set("endpointing", strconv.FormatBool(opts.Endpointing))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open dials the service and starts reading results.
func (d *Dialer) Open(ctx context.Context, opts stt.Options) (stt.Connection, error) {
	target, err := d.URL(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stt.ErrConnection, err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	conn, resp, err := d.ws.DialContext(ctx, target, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("%w: websocket connect (status %d): %s", stt.ErrConnection, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("%w: websocket connect: %v", stt.ErrConnection, err)
	}

	c := &Connection{
		conn:   conn,
		events: make(chan stt.Event, 64),
		log:    log.With().Str("sttProvider", "deepgram").Logger(),
	}
	c.events <- stt.Event{Kind: stt.EventOpened}
	go c.readLoop()
	return c, nil
}

// Connection is one live Deepgram socket.
type Connection struct {
	conn    *websocket.Conn
	events  chan stt.Event
	log     zerolog.Logger
	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	localCode atomic.Int64
	localMsg  atomic.Value
}

func (c *Connection) Events() <-chan stt.Event { return c.events }

func (c *Connection) SendAudio(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	return c.write(websocket.BinaryMessage, audio)
}

func (c *Connection) KeepAlive(ctx context.Context) error {
	return c.write(websocket.TextMessage, keepAliveMsg)
}

func (c *Connection) write(kind int, data []byte) error {
	if c.closed.Load() {
		return stt.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(kind, data); err != nil {
		return fmt.Errorf("%w: %v", stt.ErrConnection, err)
	}
	return nil
}

// Close sends a close frame with code and tears the socket down. The read
// loop then reports Closed with the same code.
func (c *Connection) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.localCode.Store(int64(code))
		c.localMsg.Store(reason)
		c.closed.Store(true)

		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		werr := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		c.writeMu.Unlock()

		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			c.log.Debug().Err(werr).Msg("Close frame not sent")
		}
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.events <- c.closedEvent(err)
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("Unparseable recognition message")
			continue
		}
		if ev, ok := msg.event(); ok {
			c.events <- ev
		}
	}
}

func (c *Connection) closedEvent(err error) stt.Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return stt.Event{Kind: stt.EventClosed, Code: ce.Code, Reason: ce.Text}
	}
	if code := c.localCode.Load(); code != 0 {
		reason, _ := c.localMsg.Load().(string)
		return stt.Event{Kind: stt.EventClosed, Code: int(code), Reason: reason}
	}
	return stt.Event{Kind: stt.EventClosed, Code: stt.CloseAbnormal, Reason: err.Error()}
}

type message struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word    string `json:"word"`
				Speaker *int   `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func (m message) event() (stt.Event, bool) {
	switch m.Type {
	case "Results":
		if len(m.Channel.Alternatives) == 0 {
			return stt.Event{}, false
		}
		alt := m.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return stt.Event{}, false
		}
		ev := stt.Event{Kind: stt.EventPartial, Text: alt.Transcript, Confidence: alt.Confidence}
		if m.IsFinal {
			ev.Kind = stt.EventFinal
		}
		if len(alt.Words) > 0 && alt.Words[0].Speaker != nil {
			ev.Speaker = stt.Speaker(*alt.Words[0].Speaker)
		}
		return ev, true
	case "SpeechStarted":
		return stt.Event{Kind: stt.EventSpeechStarted}, true
	case "UtteranceEnd":
		return stt.Event{Kind: stt.EventUtteranceEnd}, true
	case "Error":
		desc := m.Description
		if desc == "" {
			desc = m.Message
		}
		return stt.Event{Kind: stt.EventError, Err: fmt.Errorf("%w: %s", stt.ErrConnection, desc)}, true
	default:
		return stt.Event{}, false
	}
}
