// Package transcript assembles final recognition results into the
// consultation transcript.
package transcript

import (
	"fmt"
	"strings"
	"sync"
)

// Entry is one appended final result. Speaker is nil when the service did
// not attribute the utterance.
type Entry struct {
	Speaker *int
	Text    string
	Edited  bool
}

// Buffer is the single-writer, append-only transcript. Readers may call
// Text at any time; it always reflects every append applied so far.
//
// Rendering rules for AppendFinal:
//
//	speaker nil                    -> " " + text   (no label)
//	speaker != last labelled one   -> "\nSpeaker N: " + text
//	speaker == last labelled one   -> " " + text
//
// On an empty buffer the leading separator is omitted.
type Buffer struct {
	mu          sync.RWMutex
	text        strings.Builder
	entries     []Entry
	lastSpeaker *int
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// AppendFinal appends a final result and returns the rendered transcript.
// Blank text is ignored.
func (b *Buffer) AppendFinal(text string, speaker *int) string {
	text = strings.TrimSpace(text)

	b.mu.Lock()
	defer b.mu.Unlock()

	if text == "" {
		return b.text.String()
	}

	empty := b.text.Len() == 0
	switch {
	case speaker == nil:
		if !empty {
			b.text.WriteByte(' ')
		}
		b.text.WriteString(text)
	case b.lastSpeaker == nil || *b.lastSpeaker != *speaker:
		if !empty {
			b.text.WriteByte('\n')
		}
		fmt.Fprintf(&b.text, "Speaker %d: %s", *speaker, text)
		id := *speaker
		b.lastSpeaker = &id
	default:
		b.text.WriteByte(' ')
		b.text.WriteString(text)
	}

	var sp *int
	if speaker != nil {
		id := *speaker
		sp = &id
	}
	b.entries = append(b.entries, Entry{Speaker: sp, Text: text})
	return b.text.String()
}

// Edit replaces the rendered text with a user edit. Later finals are
// appended to the edited text; the last speaker is kept so a continuing
// speaker is not relabelled.
func (b *Buffer) Edit(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.text.Reset()
	b.text.WriteString(text)
	b.entries = []Entry{{Text: text, Edited: true}}
	if text == "" {
		b.entries = nil
		b.lastSpeaker = nil
	}
}

// Text returns the rendered transcript.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text.String()
}

// Empty reports whether the transcript has no visible content.
func (b *Buffer) Empty() bool {
	return strings.TrimSpace(b.Text()) == ""
}

// Entries returns a copy of the appended entries.
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}
