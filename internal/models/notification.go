package models

// Notification levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warning"
	LevelError = "error"
)

// Notification codes surfaced to the user.
const (
	CodeMicPermissionDenied = "mic_permission_denied"
	CodeMicUnavailable      = "mic_unavailable"
	CodeConnectionFailed    = "connection_failed"
	CodeConnectionLost      = "connection_lost"
	CodeTranscriptionError  = "transcription_error"
	CodeAlertsUnavailable   = "alerts_unavailable"
	CodeEngineUnavailable   = "engine_unavailable"
	CodeSaveFailed          = "save_failed"
	CodeOpenFailed          = "open_failed"
)

// Notification is a non-blocking user-visible message.
type Notification struct {
	Level     string `json:"level"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
