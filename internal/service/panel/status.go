// Package panel drives one consultation panel: it opens the encounter,
// owns the recording session, alert trigger and draft autosave, and runs
// the close, save and discard flows.
package panel

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the panel lifecycle state.
type Status int

const (
	StatusClosed Status = iota
	StatusOpening
	StatusActive
	StatusSaving
	StatusDiscarding
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "CLOSED"
	case StatusOpening:
		return "OPENING"
	case StatusActive:
		return "ACTIVE"
	case StatusSaving:
		return "SAVING"
	case StatusDiscarding:
		return "DISCARDING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

var (
	ErrAlreadyOpen        = errors.New("panel already open")
	ErrNotActive          = errors.New("panel not active")
	ErrEditWhileRecording = errors.New("transcript cannot be edited while recording")
	ErrNoPendingClose     = errors.New("no close confirmation pending")
	ErrUnknownChoice      = errors.New("unknown close choice")
)

// Close confirmation choices.
const (
	ChoiceSave    = "save"
	ChoiceDiscard = "discard"
	ChoiceCancel  = "cancel"
)

// CloseDecision is the result of RequestClose.
type CloseDecision string

const (
	// DecisionClosed means the panel closed without asking.
	DecisionClosed CloseDecision = "closed"
	// DecisionConfirm means the user must pick one of the close choices.
	DecisionConfirm CloseDecision = "confirm"
)

// SaveError lists the persistence writes that failed. Writes that
// succeeded are not rolled back.
type SaveError struct {
	Failed []string
	Err    error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save failed for %s: %v", strings.Join(e.Failed, ", "), e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}
