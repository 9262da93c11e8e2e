package main

import (
	"bytes"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-scribe-service/internal/models"
)

func TestDecodeMessage(t *testing.T) {
	value := []byte(`{"eventType":"alert.shown","panelId":"p1","patientId":"pat","timestamp":1700000000000,"payload":{"id":"fever-reported"}}`)

	ev, ok, err := decodeMessage(kafka.Message{Value: value}, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.EventAlertShown, ev.Type)
	assert.Equal(t, "p1", ev.PanelID)

	_, ok, err = decodeMessage(kafka.Message{Value: value}, "p2")
	require.NoError(t, err)
	assert.False(t, ok, "other panels are filtered")

	_, _, err = decodeMessage(kafka.Message{Value: []byte("{")}, "")
	assert.Error(t, err)
}

func TestDecodeMessageFallsBackToHeader(t *testing.T) {
	msg := kafka.Message{
		Value:   []byte(`{"panelId":"p1","timestamp":1}`),
		Headers: []kafka.Header{{Key: "eventType", Value: []byte("panel.status")}},
	}
	ev, ok, err := decodeMessage(msg, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.EventPanelStatus, ev.Type)
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, models.Event{
		Type:      models.EventNotification,
		PanelID:   "p1",
		Timestamp: 1700000000000,
		Payload:   map[string]any{"code": "connection_lost"},
	})
	assert.Contains(t, buf.String(), "panel=p1")
	assert.Contains(t, buf.String(), `{"code":"connection_lost"}`)
}
