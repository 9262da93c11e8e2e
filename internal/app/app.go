package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"clinical-scribe-service/internal/clinicalengine"
	"clinical-scribe-service/internal/clock"
	"clinical-scribe-service/internal/config"
	"clinical-scribe-service/internal/drafts"
	"clinical-scribe-service/internal/events"
	"clinical-scribe-service/internal/observability/logging"
	"clinical-scribe-service/internal/schema"
	"clinical-scribe-service/internal/service/alerts"
	"clinical-scribe-service/internal/service/panel"
	"clinical-scribe-service/internal/service/session"
	"clinical-scribe-service/internal/service/stt"
	"clinical-scribe-service/internal/service/stt/deepgram"
	"clinical-scribe-service/internal/service/stt/google"
	"clinical-scribe-service/internal/service/stt/mock"
	"clinical-scribe-service/internal/store"
)

// DemoPatientID is seeded into the in-memory store.
const DemoPatientID = "demo-patient"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Store     store.Store
	Drafts    drafts.Store
	Engine    *clinicalengine.Client
	Dialer    stt.Dialer
	Publisher *events.Publisher
	Hub       *events.Hub
	Bus       *events.Bus
	Panels    *panel.Registry

	closers []io.Closer
}

// New wires the service from cfg. Backends that cannot be reached are
// reported as errors; nothing falls back silently except the store, which
// runs in memory when no database URL is configured.
func New(ctx context.Context, cfg *config.Configuration) (*Application, error) {
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	a := &Application{
		Cfg: cfg,
		Logger: logging.WithComponent("application").With().
			Str("service", cfg.Service.Principal).
			Logger(),
	}

	var err error
	if a.Store, err = a.openStore(ctx); err != nil {
		return nil, err
	}
	if a.Drafts, err = a.openDrafts(ctx); err != nil {
		a.Shutdown(ctx)
		return nil, err
	}
	if a.Dialer, err = a.openDialer(ctx); err != nil {
		a.Shutdown(ctx)
		return nil, err
	}

	rules := alerts.DefaultRules()
	if cfg.Alerts.RulesFile != "" {
		if rules, err = alerts.LoadRules(cfg.Alerts.RulesFile); err != nil {
			a.Shutdown(ctx)
			return nil, err
		}
	}

	a.Engine = clinicalengine.New(cfg.Engine.URL, cfg.Engine.Timeout)
	a.Publisher = events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicTranscript: cfg.Kafka.TopicTranscript,
		TopicAlerts:     cfg.Kafka.TopicAlerts,
		TopicSession:    cfg.Kafka.TopicSession,
		Principal:       cfg.Kafka.Principal,
	})
	a.Hub = events.NewHub(256)
	a.Bus = events.NewBus(schema.New(), a.Publisher, a.Hub)

	a.Panels = panel.NewRegistry(panel.Deps{
		Store:   a.Store,
		Drafts:  a.Drafts,
		Engine:  a.Engine,
		Dialer:  a.Dialer,
		Events:  a.Bus,
		Clock:   clock.Real(),
		Session: sessionConfig(cfg.STT, cfg.Capture),
		Alerts: panel.AlertsConfig{
			Mode:        cfg.Alerts.Mode,
			Rules:       rules,
			ToastTTL:    cfg.Alerts.ToastTTL,
			MaxVisible:  cfg.Alerts.MaxVisible,
			EvalTimeout: cfg.Engine.Timeout,
		},
		MaxBufferedAudio: cfg.Capture.MaxBufferedBytes,
		DraftDebounce:    cfg.Drafts.Debounce,
	})

	a.Logger.Info().
		Str("sttProvider", a.Dialer.Name()).
		Str("draftsBackend", cfg.Drafts.Backend).
		Str("alertsMode", cfg.Alerts.Mode).
		Int("alertRules", len(rules)).
		Msg("Clinical scribe application created")
	return a, nil
}

func (a *Application) openStore(ctx context.Context) (store.Store, error) {
	if a.Cfg.Database.URL == "" {
		m := store.NewMemory()
		m.AddPatient(store.Patient{ID: DemoPatientID, Name: "Demo Patient"})
		a.Logger.Warn().Str("patientId", DemoPatientID).Msg("DATABASE_URL not set, using in-memory store")
		return m, nil
	}
	pg, err := store.OpenPostgres(ctx, a.Cfg.Database.URL, a.Cfg.Database.Migrate)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, pg)
	return pg, nil
}

func (a *Application) openDrafts(ctx context.Context) (drafts.Store, error) {
	cfg := a.Cfg.Drafts
	switch strings.ToLower(cfg.Backend) {
	case "redis":
		client, err := drafts.DialRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("open drafts: %w", err)
		}
		a.closers = append(a.closers, client)
		return drafts.NewRedisStore(redis.UniversalClient(client), cfg.TTL), nil
	case "file", "":
		fs, err := drafts.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("open drafts: %w", err)
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("open drafts: unknown backend %q", cfg.Backend)
	}
}

func (a *Application) openDialer(ctx context.Context) (stt.Dialer, error) {
	cfg := a.Cfg.STT
	switch strings.ToLower(cfg.Provider) {
	case "deepgram":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("stt provider deepgram: STT_API_KEY not set")
		}
		return deepgram.New(cfg.URL, cfg.APIKey), nil
	case "google":
		var opts []option.ClientOption
		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
		d, err := google.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("stt provider google: %w", err)
		}
		a.closers = append(a.closers, d)
		return d, nil
	case "mock", "":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}

func sessionConfig(c config.STTConfig, capt config.CaptureConfig) session.Config {
	return session.Config{
		Options: stt.Options{
			Model:          c.Model,
			Language:       c.LanguageCode,
			Encoding:       strings.ToLower(c.AudioEncoding),
			SampleRate:     c.SampleRateHz,
			Channels:       c.Channels,
			Punctuate:      c.Punctuate,
			InterimResults: c.InterimResults,
			Diarize:        c.Diarize,
			UtteranceEndMs: c.UtteranceEndMs,
			VADEvents:      c.VADEvents,
			Endpointing:    c.Endpointing,
		},
		ChunkInterval:     c.ChunkInterval,
		KeepAliveInterval: c.KeepAliveInterval,
		ReconnectBackoff:  c.ReconnectBackoff,
		DeviceLostGrace:   capt.DeviceLostGrace,
	}
}

// Ready reports whether the persistence backend answers.
func (a *Application) Ready(ctx context.Context) error {
	return a.Store.Ping(ctx)
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Clinical scribe service starting")
	return nil
}

// Shutdown unmounts open panels, keeping their drafts, and closes every
// backend.
func (a *Application) Shutdown(ctx context.Context) error {
	a.Logger.Info().Msg("Clinical scribe service shutting down")

	var merr *multierror.Error
	if a.Panels != nil {
		if err := a.Panels.UnmountAll(ctx); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	err := merr.ErrorOrNil()
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Shutdown completed with errors")
	}
	return err
}
