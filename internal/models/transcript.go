package models

// TranscriptPartial is an interim hypothesis; it is never written to the
// transcript buffer.
type TranscriptPartial struct {
	Text    string `json:"text"`
	Speaker *int   `json:"speaker,omitempty"`
}

// TranscriptUpdated carries the full rendered transcript after a final
// result or an edit.
type TranscriptUpdated struct {
	Text   string `json:"text"`
	Edited bool   `json:"edited,omitempty"`
}
