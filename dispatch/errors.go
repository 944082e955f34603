package dispatch

import (
	"errors"
	"github.com/jt05610/benchtop/gcode"
)

var (
	// ErrConnection means the transport could not be opened or a send failed.
	ErrConnection     = errors.New("connection error")
	ErrUnknownCommand = gcode.ErrUnknownCommand
	ErrFormat         = gcode.ErrFormat
	// ErrWaitTimeout means no completion line arrived before the deadline.
	ErrWaitTimeout = errors.New("wait timed out")
	// ErrWaitAborted means the connection dropped while waiting.
	ErrWaitAborted = errors.New("wait aborted")
)

// Outcome names the class of a dispatch error for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrWaitTimeout):
		return "timeout"
	case errors.Is(err, ErrWaitAborted):
		return "aborted"
	case errors.Is(err, ErrConnection):
		return "connection"
	}
	return "error"
}
