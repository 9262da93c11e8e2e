// Command replay drives a consultation panel from a WAV file, either
// in-process or against a running service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"clinical-scribe-service/internal/app"
	"clinical-scribe-service/internal/config"
	"clinical-scribe-service/internal/models"
	"clinical-scribe-service/internal/service/capture"
	"clinical-scribe-service/internal/service/panel"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "replay",
		Short:        "Replay a recorded consultation through a panel",
		SilenceUsage: true,
	}
	cmd.AddCommand(newLocalCmd(), newStreamCmd())
	return cmd
}

type localOptions struct {
	file    string
	patient string
	linger  time.Duration
	save    bool
}

func newLocalCmd() *cobra.Command {
	opts := localOptions{}
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Run a panel in-process using the configured provider and backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLocal(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "16-bit PCM WAV file")
	cmd.Flags().StringVar(&opts.patient, "patient", app.DemoPatientID, "patient id")
	cmd.Flags().DurationVar(&opts.linger, "linger", 3*time.Second, "time to wait for trailing results after the file ends")
	cmd.Flags().BoolVar(&opts.save, "save", false, "save the encounter instead of keeping a draft")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runLocal(cmd *cobra.Command, opts localOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	application, err := app.New(ctx, config.Load())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Shutdown(shutdownCtx)
	}()

	events, unsubscribe := application.Hub.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range events {
			printEvent(out, ev)
		}
	}()

	device := capture.NewWAVDevice(opts.file)
	c, err := application.Panels.Open(ctx, panel.OpenRequest{PatientID: opts.patient, AutoStart: true}, device)
	if err != nil {
		return err
	}

	select {
	case <-device.Done():
	case <-ctx.Done():
	}
	select {
	case <-time.After(opts.linger):
	case <-ctx.Done():
	}

	if err := c.StopRecording(); err != nil {
		return err
	}
	v := c.View()
	fmt.Fprintf(out, "\nTranscript (%s):\n%s\n", v.EncounterID, v.Transcript)
	for _, a := range v.Alerts {
		fmt.Fprintf(out, "Alert [%s] %s: %s\n", a.Severity, a.Title, a.Message)
	}

	if opts.save {
		return c.Save(context.WithoutCancel(ctx))
	}
	return c.Unmount(context.WithoutCancel(ctx))
}

func printEvent(w io.Writer, ev models.Event) {
	switch p := ev.Payload.(type) {
	case models.TranscriptPartial:
		fmt.Fprintf(w, "… %s\n", p.Text)
	case models.TranscriptUpdated:
		lines := strings.Split(p.Text, "\n")
		fmt.Fprintf(w, "✓ %s\n", lines[len(lines)-1])
	case models.Alert:
		fmt.Fprintf(w, "! %s (%s)\n", p.Title, p.Severity)
	case models.Notification:
		fmt.Fprintf(w, "# %s: %s\n", p.Code, p.Message)
	case models.SessionStatus:
		fmt.Fprintf(w, "# session %s -> %s\n", p.From, p.To)
	}
}
