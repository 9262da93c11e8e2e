// Package google provides a Google Cloud Speech-to-Text streaming
// recognition connection.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"clinical-scribe-service/internal/service/stt"
)

// Config holds the recognition settings sent as the first stream message.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	Model          string
	Channels       int
	Punctuate      bool
	Diarize        bool
	VADEvents      bool
}

// DefaultConfig returns telephony defaults.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		Channels:       1,
	}
}

// ConfigFromOptions maps connection options onto a Config.
func ConfigFromOptions(o stt.Options) Config {
	cfg := DefaultConfig()
	if o.Language != "" {
		cfg.LanguageCode = o.Language
	}
	if o.SampleRate > 0 {
		cfg.SampleRateHz = o.SampleRate
	}
	if o.Encoding != "" {
		cfg.AudioEncoding = strings.ToUpper(o.Encoding)
	}
	if o.Channels > 0 {
		cfg.Channels = o.Channels
	}
	cfg.InterimResults = o.InterimResults
	cfg.Punctuate = o.Punctuate
	cfg.Diarize = o.Diarize
	cfg.VADEvents = o.VADEvents
	// Deepgram model names are not valid here; leave Google's default.
	return cfg
}

func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[s]; ok && s != "ENCODING_UNSPECIFIED" {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

func (c Config) request() *speechpb.StreamingRecognizeRequest {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(c.AudioEncoding),
		SampleRateHertz:            int32(c.SampleRateHz),
		AudioChannelCount:          int32(c.Channels),
		LanguageCode:               c.LanguageCode,
		EnableAutomaticPunctuation: c.Punctuate,
		Model:                      c.Model,
	}
	if c.Diarize {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          1,
			MaxSpeakerCount:          4,
		}
	}
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:                    rc,
				InterimResults:            c.InterimResults,
				EnableVoiceActivityEvents: c.VADEvents,
			},
		},
	}
}

// recognizeStream is the subset of Speech_StreamingRecognizeClient used here.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Dialer opens Google streaming recognition connections.
type Dialer struct {
	client *speech.Client
	open   func(ctx context.Context) (recognizeStream, error)
}

// New creates a dialer. Credentials come from GOOGLE_APPLICATION_CREDENTIALS
// unless opts say otherwise.
func New(ctx context.Context, opts ...option.ClientOption) (*Dialer, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Dialer{
		client: c,
		open: func(ctx context.Context) (recognizeStream, error) {
			return c.StreamingRecognize(ctx)
		},
	}, nil
}

func (d *Dialer) Name() string { return "google" }

// Close releases the underlying gRPC client.
func (d *Dialer) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// Open starts a streaming recognition call and sends the config message.
func (d *Dialer) Open(ctx context.Context, opts stt.Options) (stt.Connection, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := d.open(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", stt.ErrConnection, err)
	}
	if err := stream.Send(ConfigFromOptions(opts).request()); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: send config: %v", stt.ErrConnection, err)
	}

	c := &Connection{
		stream: stream,
		cancel: cancel,
		events: make(chan stt.Event, 64),
		log:    log.With().Str("sttProvider", "google").Logger(),
	}
	c.events <- stt.Event{Kind: stt.EventOpened}
	go c.listen()
	return c, nil
}

// Connection is one streaming recognition call.
type Connection struct {
	stream recognizeStream
	cancel context.CancelFunc
	events chan stt.Event
	log    zerolog.Logger
	sendMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	localCode atomic.Int64
	localMsg  atomic.Value
}

func (c *Connection) Events() <-chan stt.Event { return c.events }

func (c *Connection) SendAudio(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	if c.closed.Load() {
		return stt.ErrClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	err := c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", stt.ErrConnection, err)
	}
	return nil
}

// KeepAlive is a no-op: gRPC streams carry their own HTTP/2 keepalives and
// the API has no control message for idle audio.
func (c *Connection) KeepAlive(ctx context.Context) error {
	if c.closed.Load() {
		return stt.ErrClosed
	}
	return nil
}

func (c *Connection) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.localCode.Store(int64(code))
		c.localMsg.Store(reason)
		c.closed.Store(true)

		c.sendMu.Lock()
		err = c.stream.CloseSend()
		c.sendMu.Unlock()
		c.cancel()
	})
	return err
}

func (c *Connection) listen() {
	defer close(c.events)
	defer c.cancel()

	for {
		resp, err := c.stream.Recv()
		if err != nil {
			c.finish(err)
			return
		}
		if resp.Error != nil {
			c.events <- stt.Event{
				Kind: stt.EventError,
				Err:  fmt.Errorf("%w: %s", stt.ErrConnection, resp.Error.GetMessage()),
			}
			continue
		}

		switch resp.SpeechEventType {
		case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_BEGIN:
			c.events <- stt.Event{Kind: stt.EventSpeechStarted}
		case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_END,
			speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE:
			c.events <- stt.Event{Kind: stt.EventUtteranceEnd}
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			ev := stt.Event{Kind: stt.EventPartial, Text: alt.Transcript, Confidence: float64(alt.Confidence)}
			if r.IsFinal {
				ev.Kind = stt.EventFinal
			}
			if len(alt.Words) > 0 && alt.Words[0].SpeakerTag > 0 {
				ev.Speaker = stt.Speaker(int(alt.Words[0].SpeakerTag))
			}
			c.events <- ev
		}
	}
}

// finish maps the terminal Recv error onto Closed (and Error for
// non-retryable statuses).
func (c *Connection) finish(err error) {
	if code := c.localCode.Load(); code != 0 {
		reason, _ := c.localMsg.Load().(string)
		c.events <- stt.Event{Kind: stt.EventClosed, Code: int(code), Reason: reason}
		return
	}
	if errors.Is(err, io.EOF) {
		c.events <- stt.Event{Kind: stt.EventClosed, Code: stt.CloseNormal, Reason: "stream ended"}
		return
	}

	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Canceled:
		c.events <- stt.Event{Kind: stt.EventClosed, Code: stt.CloseGoingAway, Reason: st.Message()}
	case codes.Unavailable, codes.DeadlineExceeded, codes.OutOfRange, codes.Aborted, codes.Internal:
		c.log.Warn().Err(err).Str("code", st.Code().String()).Msg("Recognition stream dropped")
		c.events <- stt.Event{Kind: stt.EventClosed, Code: stt.CloseAbnormal, Reason: st.Message()}
	default:
		c.events <- stt.Event{Kind: stt.EventError, Err: fmt.Errorf("%w: %v", stt.ErrConnection, err)}
		c.events <- stt.Event{Kind: stt.EventClosed, Code: 1011, Reason: st.Message()}
	}
}
