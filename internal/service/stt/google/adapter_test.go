package google

import (
	"testing"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"clinical-scribe-service/internal/service/stt"
)

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"ENCODING_UNSPECIFIED", speechpb.RecognitionConfig_LINEAR16},
		{"opus", speechpb.RecognitionConfig_LINEAR16},
		{"", speechpb.RecognitionConfig_LINEAR16},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfigFromOptions(t *testing.T) {
	cfg := ConfigFromOptions(stt.Options{
		Model:          "nova-2-medical",
		Language:       "en-GB",
		Encoding:       "mulaw",
		SampleRate:     16000,
		Channels:       2,
		Punctuate:      true,
		InterimResults: true,
		Diarize:        true,
		VADEvents:      true,
	})

	if cfg.LanguageCode != "en-GB" {
		t.Errorf("LanguageCode = %q, want en-GB", cfg.LanguageCode)
	}
	if cfg.AudioEncoding != "MULAW" {
		t.Errorf("AudioEncoding = %q, want MULAW", cfg.AudioEncoding)
	}
	if cfg.SampleRateHz != 16000 || cfg.Channels != 2 {
		t.Errorf("got %d Hz x%d, want 16000 Hz x2", cfg.SampleRateHz, cfg.Channels)
	}
	if cfg.Model != "" {
		t.Errorf("Model = %q, provider model names must not leak through", cfg.Model)
	}
	if !cfg.Punctuate || !cfg.InterimResults || !cfg.Diarize || !cfg.VADEvents {
		t.Errorf("feature flags not carried over: %+v", cfg)
	}
}

func TestConfigFromOptionsKeepsDefaults(t *testing.T) {
	cfg := ConfigFromOptions(stt.Options{})
	def := DefaultConfig()

	if cfg.LanguageCode != def.LanguageCode || cfg.SampleRateHz != def.SampleRateHz ||
		cfg.AudioEncoding != def.AudioEncoding || cfg.Channels != def.Channels {
		t.Errorf("ConfigFromOptions(zero) = %+v, want defaults %+v", cfg, def)
	}
}

func TestRequest(t *testing.T) {
	req := Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		AudioEncoding:  "LINEAR16",
		Channels:       1,
		InterimResults: true,
		Punctuate:      true,
		Diarize:        true,
		VADEvents:      true,
	}.request()

	sc := req.GetStreamingConfig()
	if sc == nil {
		t.Fatal("first request must carry the streaming config")
	}
	if !sc.InterimResults || !sc.EnableVoiceActivityEvents {
		t.Errorf("streaming flags = %+v", sc)
	}
	rc := sc.Config
	if rc.SampleRateHertz != 16000 || rc.Encoding != speechpb.RecognitionConfig_LINEAR16 {
		t.Errorf("recognition config = %+v", rc)
	}
	if !rc.EnableAutomaticPunctuation {
		t.Error("punctuation should be enabled")
	}
	if rc.DiarizationConfig == nil || !rc.DiarizationConfig.EnableSpeakerDiarization {
		t.Error("diarization should be enabled")
	}

	plain := Config{LanguageCode: "en-US"}.request().GetStreamingConfig().Config
	if plain.DiarizationConfig != nil {
		t.Error("diarization config should be omitted when disabled")
	}
}
