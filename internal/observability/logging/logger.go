// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string    // debug, info, warn, error
	Format     string    // json, console
	TimeFormat string    // RFC3339, Unix, etc.
	Output     io.Writer // stdout when nil
}

// DefaultConfig returns the logging configuration used for unset fields.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global zerolog logger. Empty fields fall back to
// DefaultConfig and an unknown level to info.
func Init(cfg Config) {
	def := DefaultConfig()

	// Set time format
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = def.TimeFormat
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	// Parse log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.Kitchen,
			NoColor:    output != os.Stdout,
		}
	}

	// Set global logger
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// WithEncounter returns a logger for one open consultation.
func WithEncounter(panelID, patientID, encounterID string) zerolog.Logger {
	return log.With().
		Str("component", "panel").
		Str("panelId", panelID).
		Str("patientId", patientID).
		Str("encounterId", encounterID).
		Logger()
}

// WithProvider returns a logger tagged with the speech provider.
func WithProvider(panelID, provider string) zerolog.Logger {
	return log.With().
		Str("panelId", panelID).
		Str("sttProvider", provider).
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}
