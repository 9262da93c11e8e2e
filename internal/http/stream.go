package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"clinical-scribe-service/internal/models"
	"clinical-scribe-service/internal/service/capture"
	"clinical-scribe-service/internal/service/panel"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxControlSize = 64 * 1024
	maxFrameSize   = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// control is a text frame sent by the browser. Binary frames carry PCM
// audio.
type control struct {
	Type    string `json:"type"`
	Hidden  bool   `json:"hidden,omitempty"`
	Granted bool   `json:"granted,omitempty"`
}

// Control types.
const (
	ctlStart      = "start"
	ctlPause      = "pause"
	ctlResume     = "resume"
	ctlStop       = "stop"
	ctlVisibility = "visibility"
	ctlPermission = "permission"
)

type reply struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Message string `json:"message,omitempty"`
}

// stream attaches a browser to a panel: audio frames flow in, the panel's
// events flow out.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request, c *panel.Controller) {
	relay, ok := c.Device().(*capture.Relay)
	if !ok {
		writeJSON(w, http.StatusConflict, errorBody{Error: "panel does not accept streamed audio"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("panelId", c.ID()).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	log := h.log.With().Str("panelId", c.ID()).Logger()
	attachID := relay.Attach()
	defer func() {
		if relay.DetachIfCurrent(attachID) {
			c.DeviceLost()
		}
	}()
	log.Info().Msg("Audio stream attached")

	events, unsubscribe := h.hub.SubscribePanel(c.ID())
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	out := make(chan any, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, c.ID(), events, out)
		// Unblocks ReadMessage when the writer gave up first.
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("Audio stream read failed")
			}
			break
		}

		switch kind {
		case websocket.BinaryMessage:
			relay.Push(data)
		case websocket.TextMessage:
			if len(data) > maxControlSize {
				h.send(out, reply{Type: "error", Message: "control frame too large"})
				continue
			}
			var cmd control
			if err := json.Unmarshal(data, &cmd); err != nil {
				h.send(out, reply{Type: "error", Message: "invalid control frame"})
				continue
			}
			if err := h.apply(ctx, c, relay, cmd); err != nil {
				h.send(out, reply{Type: "error", Command: cmd.Type, Message: err.Error()})
				continue
			}
			h.send(out, reply{Type: "ack", Command: cmd.Type})
		}
	}

	cancel()
	<-writerDone
	log.Info().Msg("Audio stream detached")
}

func (h *handlers) apply(ctx context.Context, c *panel.Controller, relay *capture.Relay, cmd control) error {
	switch cmd.Type {
	case ctlStart:
		return c.StartRecording(ctx)
	case ctlPause:
		return c.PauseRecording()
	case ctlResume:
		return c.ResumeRecording(ctx)
	case ctlStop:
		return c.StopRecording()
	case ctlVisibility:
		c.SetHidden(cmd.Hidden)
		return nil
	case ctlPermission:
		if cmd.Granted {
			relay.Grant()
		} else {
			relay.Deny()
		}
		return nil
	default:
		return errUnknownControl(cmd.Type)
	}
}

type errUnknownControl string

func (e errUnknownControl) Error() string { return "unknown control " + string(e) }

// send queues a reply without blocking the read loop.
func (h *handlers) send(out chan<- any, v any) {
	select {
	case out <- v:
	default:
		h.log.Warn().Msg("Stream reply dropped, writer is behind")
	}
}

func (h *handlers) writeLoop(ctx context.Context, conn *websocket.Conn, panelID string, events <-chan models.Event, out <-chan any) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			h.log.Debug().Err(err).Str("panelId", panelID).Msg("Stream write failed")
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !write(ev) {
				return
			}
		case v := <-out:
			if !write(v) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
