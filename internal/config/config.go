// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	Capture       CaptureConfig
	Alerts        AlertsConfig
	Engine        EngineConfig
	Database      DatabaseConfig
	Drafts        DraftsConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal string
	HTTPPort  string
	GRPCPort  string
}

// STTConfig configures the streaming recognition connection.
type STTConfig struct {
	Provider          string // deepgram, google, mock
	URL               string
	APIKey            string
	Model             string
	LanguageCode      string
	AudioEncoding     string
	SampleRateHz      int
	Channels          int
	Punctuate         bool
	InterimResults    bool
	Diarize           bool
	UtteranceEndMs    int
	VADEvents         bool
	Endpointing       bool
	ChunkInterval     time.Duration
	KeepAliveInterval time.Duration
	ReconnectBackoff  time.Duration
}

type CaptureConfig struct {
	MaxBufferedBytes int
	DeviceLostGrace  time.Duration
}

type AlertsConfig struct {
	Mode       string // phrase, engine
	RulesFile  string
	ToastTTL   time.Duration
	MaxVisible int
}

type EngineConfig struct {
	URL     string
	Timeout time.Duration
}

type DatabaseConfig struct {
	URL     string
	Migrate bool
}

type DraftsConfig struct {
	Backend   string // file, redis
	Dir       string
	RedisAddr string
	RedisDB   int
	TTL       time.Duration
	Debounce  time.Duration
}

type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicTranscript string
	TopicAlerts     string
	TopicSession    string
	Principal       string
}

type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads the configuration from the environment, falling back to
// defaults for unset or unparsable values.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-clinical-scribe")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
		},
		STT: STTConfig{
			Provider:          envOrDefault("STT_PROVIDER", "mock"),
			URL:               envOrDefault("STT_URL", "wss://api.deepgram.com/v1/listen"),
			APIKey:            os.Getenv("STT_API_KEY"),
			Model:             envOrDefault("STT_MODEL", "nova-2-medical"),
			LanguageCode:      envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			AudioEncoding:     envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			SampleRateHz:      envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			Channels:          envOrDefaultInt("STT_CHANNELS", 1),
			Punctuate:         envOrDefaultBool("STT_PUNCTUATE", true),
			InterimResults:    envOrDefaultBool("STT_INTERIM_RESULTS", true),
			Diarize:           envOrDefaultBool("STT_DIARIZE", true),
			UtteranceEndMs:    envOrDefaultInt("STT_UTTERANCE_END_MS", 3000),
			VADEvents:         envOrDefaultBool("STT_VAD_EVENTS", true),
			Endpointing:       envOrDefaultBool("STT_ENDPOINTING", false),
			ChunkInterval:     envOrDefaultDuration("STT_CHUNK_INTERVAL", 250*time.Millisecond),
			KeepAliveInterval: envOrDefaultDuration("STT_KEEPALIVE_INTERVAL", 5*time.Second),
			ReconnectBackoff:  envOrDefaultDuration("STT_RECONNECT_BACKOFF", 2*time.Second),
		},
		Capture: CaptureConfig{
			// ~60s of 16kHz 16-bit mono
			MaxBufferedBytes: envOrDefaultInt("CAPTURE_MAX_BUFFERED_BYTES", 2*1024*1024),
			DeviceLostGrace:  envOrDefaultDuration("CAPTURE_DEVICE_LOST_GRACE", 30*time.Second),
		},
		Alerts: AlertsConfig{
			Mode:       envOrDefault("ALERTS_MODE", "phrase"),
			RulesFile:  os.Getenv("ALERTS_RULES_FILE"),
			ToastTTL:   envOrDefaultDuration("ALERTS_TOAST_TTL", 10*time.Second),
			MaxVisible: envOrDefaultInt("ALERTS_MAX_VISIBLE", 3),
		},
		Engine: EngineConfig{
			URL:     envOrDefault("CLINICAL_ENGINE_URL", "http://localhost:8000"),
			Timeout: envOrDefaultDuration("CLINICAL_ENGINE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:     os.Getenv("DATABASE_URL"),
			Migrate: envOrDefaultBool("DATABASE_MIGRATE", true),
		},
		Drafts: DraftsConfig{
			Backend:   envOrDefault("DRAFTS_BACKEND", "file"),
			Dir:       envOrDefault("DRAFTS_DIR", os.TempDir()+"/clinical-scribe-drafts"),
			RedisAddr: envOrDefault("DRAFTS_REDIS_ADDR", "localhost:6379"),
			RedisDB:   envOrDefaultInt("DRAFTS_REDIS_DB", 0),
			TTL:       envOrDefaultDuration("DRAFTS_TTL", 7*24*time.Hour),
			Debounce:  envOrDefaultDuration("DRAFTS_DEBOUNCE", 500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "consultation.transcript"),
			TopicAlerts:     envOrDefault("KAFKA_TOPIC_ALERTS", "consultation.alerts"),
			TopicSession:    envOrDefault("KAFKA_TOPIC_SESSION", "consultation.session"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
