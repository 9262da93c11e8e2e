// Package session runs one panel's recording: it owns the capture stream
// and the recognition connection and moves them through an explicit
// status machine.
package session

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a recording session.
type Status int

const (
	// StatusIdle - Nothing recorded yet; no resources held.
	StatusIdle Status = iota
	// StatusRecording - Capturing audio and forwarding it.
	StatusRecording
	// StatusPaused - Capture suspended; the connection is kept alive.
	StatusPaused
	// StatusReconnecting - Connection dropped unexpectedly; one retry is scheduled.
	StatusReconnecting
	// StatusStopped - Resources released. A later Start begins a new run.
	StatusStopped
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusRecording:
		return "RECORDING"
	case StatusPaused:
		return "PAUSED"
	case StatusReconnecting:
		return "RECONNECTING"
	case StatusStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Active returns true while the session holds capture and connection
// resources.
func (s Status) Active() bool {
	return s == StatusRecording || s == StatusPaused || s == StatusReconnecting
}

// Command drives a status transition.
type Command int

const (
	CmdStart Command = iota
	CmdPause
	CmdResume
	CmdStop
	CmdConnectionLost
	CmdReconnected
	CmdFail
)

func (c Command) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdStop:
		return "stop"
	case CmdConnectionLost:
		return "connection_lost"
	case CmdReconnected:
		return "reconnected"
	case CmdFail:
		return "fail"
	default:
		return fmt.Sprintf("command(%d)", c)
	}
}

// Errors for invalid transitions.
var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrStopped           = errors.New("session stopped")
)

// Next is the session transition function.
//
// State transitions:
//
//	IDLE|STOPPED ──start──→ RECORDING
//	RECORDING ──pause──→ PAUSED ──resume──→ RECORDING
//	RECORDING ──connection_lost──→ RECONNECTING ──reconnected──→ RECORDING
//	RECONNECTING ──pause──→ PAUSED (pending retry cancelled)
//	any ──stop|fail──→ STOPPED
//
// Rules:
//   - pause on PAUSED and resume on RECORDING are idempotent
//   - connection_lost while PAUSED keeps PAUSED; resume reopens
//   - stop on STOPPED is a no-op
func Next(s Status, c Command) (Status, error) {
	switch c {
	case CmdStart:
		if s == StatusIdle || s == StatusStopped {
			return StatusRecording, nil
		}
	case CmdPause:
		switch s {
		case StatusRecording, StatusReconnecting, StatusPaused:
			return StatusPaused, nil
		}
	case CmdResume:
		switch s {
		case StatusPaused, StatusRecording:
			return StatusRecording, nil
		}
	case CmdStop, CmdFail:
		return StatusStopped, nil
	case CmdConnectionLost:
		switch s {
		case StatusRecording:
			return StatusReconnecting, nil
		case StatusPaused:
			return StatusPaused, nil
		}
	case CmdReconnected:
		if s == StatusReconnecting {
			return StatusRecording, nil
		}
	}
	return s, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, c, s)
}
