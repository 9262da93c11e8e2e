package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"clinical-scribe-service/internal/app"
	"clinical-scribe-service/internal/service/capture"
)

type streamOptions struct {
	file     string
	server   string
	patient  string
	interval time.Duration
	linger   time.Duration
}

func newStreamCmd() *cobra.Command {
	opts := streamOptions{}
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream a WAV file to a running service over the panel WebSocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStream(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "16-bit PCM WAV file")
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "service base URL")
	cmd.Flags().StringVar(&opts.patient, "patient", app.DemoPatientID, "patient id")
	cmd.Flags().DurationVar(&opts.interval, "interval", 100*time.Millisecond, "audio chunk interval")
	cmd.Flags().DurationVar(&opts.linger, "linger", 3*time.Second, "time to wait for trailing results after the file ends")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type panelView struct {
	ID          string `json:"id"`
	EncounterID string `json:"encounterId"`
	Transcript  string `json:"transcript"`
}

func post(client *http.Client, url string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := client.Post(url, "application/json", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("POST %s: %s: %s", url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runStream(cmd *cobra.Command, opts streamOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	client := &http.Client{Timeout: 30 * time.Second}
	base := strings.TrimSuffix(opts.server, "/")

	f, err := os.Open(opts.file)
	if err != nil {
		return err
	}
	defer f.Close()
	format, err := capture.ReadWAVHeader(f)
	if err != nil {
		return err
	}
	log.Info().
		Int("sampleRate", format.SampleRate).
		Int("channels", format.Channels).
		Int("bitsPerSample", format.BitsPerSample).
		Msg("WAV file opened")

	var v panelView
	if err := post(client, base+"/v1/panels", map[string]any{"patientId": opts.patient}, &v); err != nil {
		return err
	}
	log.Info().Str("panelId", v.ID).Str("encounterId", v.EncounterID).Msg("Panel opened")

	u, err := url.Parse(base + "/v1/panels/" + v.ID + "/stream")
	if err != nil {
		return err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fmt.Fprintf(out, "%s\n", data)
		}
	}()

	if err := conn.WriteJSON(map[string]string{"type": "start"}); err != nil {
		return err
	}

	chunk := make([]byte, format.BytesPer(opts.interval))
	if len(chunk) == 0 {
		chunk = make([]byte, 1600)
	}
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	var sent int
	for done := false; !done; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		n, err := f.Read(chunk)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); werr != nil {
				return werr
			}
			sent += n
		}
		switch {
		case errors.Is(err, io.EOF):
			done = true
		case err != nil:
			return err
		}
	}
	log.Info().Int("bytes", sent).Msg("Audio sent")

	time.Sleep(opts.linger)
	if err := conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		return err
	}

	var decision struct {
		Decision string `json:"decision"`
	}
	if err := post(client, base+"/v1/panels/"+v.ID+"/close", nil, &decision); err != nil {
		return err
	}
	if decision.Decision == "confirm" {
		if err := post(client, base+"/v1/panels/"+v.ID+"/close/resolve", map[string]string{"choice": "save"}, &v); err != nil {
			return err
		}
	}
	log.Info().Str("decision", decision.Decision).Msg("Panel closed")
	return nil
}
