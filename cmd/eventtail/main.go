// Command eventtail follows the consultation event topics and prints them,
// optionally relaying them to browsers over a WebSocket.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"clinical-scribe-service/internal/config"
	"clinical-scribe-service/internal/events"
	"clinical-scribe-service/internal/models"
	"clinical-scribe-service/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type options struct {
	brokers []string
	topics  []string
	panel   string
	since   time.Duration
	listen  string
}

func newRootCmd(cfg *config.Configuration) *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "eventtail",
		Short:        "Tail consultation events from Kafka",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Init(logging.Config{Level: cfg.Observability.LogLevel, Format: "console"})
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.brokers, "brokers", cfg.Kafka.Brokers, "Kafka brokers")
	cmd.Flags().StringSliceVar(&opts.topics, "topics",
		[]string{cfg.Kafka.TopicTranscript, cfg.Kafka.TopicAlerts, cfg.Kafka.TopicSession}, "topics to follow")
	cmd.Flags().StringVar(&opts.panel, "panel", "", "only show events of this panel")
	cmd.Flags().DurationVar(&opts.since, "since", time.Hour, "start this far back")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "serve a WebSocket relay on this address, e.g. :8081")
	return cmd
}

func run(ctx context.Context, out io.Writer, opts options) error {
	hub := events.NewHub(256)
	defer hub.Close()

	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range opts.topics {
		topic := topic
		g.Go(func() error {
			return consume(ctx, opts, topic, func(ev models.Event) {
				printEvent(out, ev)
				hub.Emit(ev)
			})
		})
	}

	if opts.listen != "" {
		srv := &http.Server{Addr: opts.listen, Handler: relayHandler(hub), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", opts.listen).Msg("WebSocket relay listening on /ws")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// consume reads partition 0 of topic without a consumer group.
func consume(ctx context.Context, opts options, topic string, emit func(models.Event)) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   opts.brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-opts.since)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Could not seek, reading from the start")
	}
	log.Info().Str("topic", topic).Dur("since", opts.since).Msg("Consuming")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		ev, ok, err := decodeMessage(msg, opts.panel)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Int64("offset", msg.Offset).Msg("Skipping malformed event")
			continue
		}
		if ok {
			emit(ev)
		}
	}
}

// decodeMessage parses a published event. It reports false for events of
// other panels when panel is set.
func decodeMessage(msg kafka.Message, panel string) (models.Event, bool, error) {
	var ev models.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return models.Event{}, false, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		for _, h := range msg.Headers {
			if h.Key == "eventType" {
				ev.Type = models.EventType(h.Value)
			}
		}
	}
	if panel != "" && ev.PanelID != panel {
		return ev, false, nil
	}
	return ev, true, nil
}

func printEvent(out io.Writer, ev models.Event) {
	payload, _ := json.Marshal(ev.Payload)
	ts := time.UnixMilli(ev.Timestamp).Format("15:04:05.000")
	fmt.Fprintf(out, "%s %-26s panel=%s %s\n", ts, ev.Type, ev.PanelID, payload)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func relayHandler(hub *events.Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		// An empty panel query follows every panel.
		ch, cancel := hub.SubscribePanel(r.URL.Query().Get("panel"))
		defer cancel()

		// Reads only detect the client going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	})
	return mux
}
