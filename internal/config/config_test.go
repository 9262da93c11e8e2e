package config

import (
	"os"
	"testing"
	"time"
)

var managedEnv = []string{
	"SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT", "LOG_LEVEL",
	"STT_PROVIDER", "STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ", "STT_INTERIM_RESULTS",
	"STT_UTTERANCE_END_MS", "STT_ENDPOINTING", "STT_CHUNK_INTERVAL",
	"STT_KEEPALIVE_INTERVAL", "STT_RECONNECT_BACKOFF",
	"ALERTS_MAX_VISIBLE", "ALERTS_TOAST_TTL", "DRAFTS_DEBOUNCE",
	"KAFKA_BROKERS", "KAFKA_PRINCIPAL",
}

func clearEnv() {
	for _, v := range managedEnv {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "svc-clinical-scribe" {
		t.Errorf("expected default principal 'svc-clinical-scribe', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default http port '8080', got %s", cfg.Service.HTTPPort)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default grpc port '50051', got %s", cfg.Service.GRPCPort)
	}

	// Streaming recognition defaults
	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if cfg.STT.UtteranceEndMs != 3000 {
		t.Errorf("expected utterance end 3000ms, got %d", cfg.STT.UtteranceEndMs)
	}
	if cfg.STT.Endpointing {
		t.Error("expected endpointing to be disabled by default")
	}
	if !cfg.STT.Diarize || !cfg.STT.Punctuate || !cfg.STT.InterimResults || !cfg.STT.VADEvents {
		t.Errorf("expected diarize/punctuate/interim/vad on, got %+v", cfg.STT)
	}
	if cfg.STT.ChunkInterval != 250*time.Millisecond {
		t.Errorf("expected chunk interval 250ms, got %v", cfg.STT.ChunkInterval)
	}
	if cfg.STT.KeepAliveInterval != 5*time.Second {
		t.Errorf("expected keep-alive 5s, got %v", cfg.STT.KeepAliveInterval)
	}
	if cfg.STT.ReconnectBackoff != 2*time.Second {
		t.Errorf("expected reconnect backoff 2s, got %v", cfg.STT.ReconnectBackoff)
	}

	if cfg.Alerts.MaxVisible != 3 {
		t.Errorf("expected 3 visible toasts, got %d", cfg.Alerts.MaxVisible)
	}
	if cfg.Alerts.ToastTTL != 10*time.Second {
		t.Errorf("expected toast ttl 10s, got %v", cfg.Alerts.ToastTTL)
	}
	if cfg.Drafts.Debounce != 500*time.Millisecond {
		t.Errorf("expected draft debounce 500ms, got %v", cfg.Drafts.Debounce)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	os.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	os.Setenv("GRPC_PORT", "9999")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("STT_PROVIDER", "deepgram")
	os.Setenv("STT_SAMPLE_RATE_HZ", "8000")
	os.Setenv("STT_RECONNECT_BACKOFF", "3s")
	os.Setenv("ALERTS_MAX_VISIBLE", "5")
	os.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	defer clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.STT.Provider != "deepgram" {
		t.Errorf("expected STT provider 'deepgram', got %s", cfg.STT.Provider)
	}
	if cfg.STT.SampleRateHz != 8000 {
		t.Errorf("expected sample rate 8000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.ReconnectBackoff != 3*time.Second {
		t.Errorf("expected backoff 3s, got %v", cfg.STT.ReconnectBackoff)
	}
	if cfg.Alerts.MaxVisible != 5 {
		t.Errorf("expected 5 visible toasts, got %d", cfg.Alerts.MaxVisible)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("expected two trimmed brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv()
	os.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	os.Setenv("STT_INTERIM_RESULTS", "invalid")
	os.Setenv("STT_CHUNK_INTERVAL", "soon")
	os.Setenv("ALERTS_MAX_VISIBLE", "many")
	defer clearEnv()

	cfg := Load()

	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.InterimResults != true {
		t.Errorf("expected default interim results on invalid input, got %v", cfg.STT.InterimResults)
	}
	if cfg.STT.ChunkInterval != 250*time.Millisecond {
		t.Errorf("expected default chunk interval on invalid input, got %v", cfg.STT.ChunkInterval)
	}
	if cfg.Alerts.MaxVisible != 3 {
		t.Errorf("expected default max visible on invalid input, got %d", cfg.Alerts.MaxVisible)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv()
	os.Setenv("SERVICE_PRINCIPAL", "my-service")
	defer clearEnv()

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestEnvOrDefaultList(t *testing.T) {
	key := "TEST_LIST_VAR"
	defer os.Unsetenv(key)

	os.Setenv(key, " , ,")
	if got := envOrDefaultList(key, []string{"def"}); len(got) != 1 || got[0] != "def" {
		t.Errorf("expected default for blank list, got %v", got)
	}

	os.Setenv(key, "a,b")
	if got := envOrDefaultList(key, nil); len(got) != 2 {
		t.Errorf("expected 2 entries, got %v", got)
	}
}
