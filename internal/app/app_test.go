package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-scribe-service/internal/config"
	"clinical-scribe-service/internal/service/capture"
	"clinical-scribe-service/internal/service/panel"
)

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	cfg := config.Load()
	cfg.Database.URL = ""
	cfg.STT.Provider = "mock"
	cfg.Drafts.Backend = "file"
	cfg.Drafts.Dir = t.TempDir()
	cfg.Kafka.Enabled = false
	cfg.Alerts.RulesFile = ""
	return cfg
}

func TestNewWithLocalBackends(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	require.NoError(t, err)

	require.NoError(t, a.Start())
	assert.False(t, a.StartupTime.IsZero())
	assert.Equal(t, "mock", a.Dialer.Name())
	require.NoError(t, a.Ready(ctx))

	c, err := a.Panels.Open(ctx, panel.OpenRequest{PatientID: DemoPatientID}, capture.NewRelay())
	require.NoError(t, err)
	assert.Equal(t, panel.StatusActive, c.Status())
	assert.Equal(t, 1, a.Panels.Len())

	require.NoError(t, a.Shutdown(ctx))
	assert.Equal(t, 0, a.Panels.Len())
	assert.Equal(t, panel.StatusClosed, c.Status())
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Configuration)
	}{
		{"unknown provider", func(c *config.Configuration) { c.STT.Provider = "whisper" }},
		{"deepgram without key", func(c *config.Configuration) {
			c.STT.Provider = "deepgram"
			c.STT.APIKey = ""
		}},
		{"unknown drafts backend", func(c *config.Configuration) { c.Drafts.Backend = "s3" }},
		{"missing rules file", func(c *config.Configuration) { c.Alerts.RulesFile = "testdata/absent.yaml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg)
			assert.Error(t, err)
		})
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := testConfig(t)
	sc := sessionConfig(cfg.STT, cfg.Capture)
	assert.Equal(t, "linear16", sc.Options.Encoding)
	assert.Equal(t, cfg.STT.SampleRateHz, sc.Options.SampleRate)
	assert.Equal(t, cfg.STT.ChunkInterval, sc.ChunkInterval)
	assert.Equal(t, cfg.STT.ReconnectBackoff, sc.ReconnectBackoff)
	assert.Equal(t, cfg.Capture.DeviceLostGrace, sc.DeviceLostGrace)
}
