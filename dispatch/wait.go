package dispatch

import (
	"context"
	"errors"
	"fmt"
	"github.com/jt05610/benchtop/comm"
	"github.com/jt05610/benchtop/gcode"
	"github.com/jt05610/benchtop/marlin"
	"go.uber.org/zap"
	"time"
)

// Policy decides when a dispatched command is complete.
type Policy int

const (
	NoWait Policy = iota
	SimpleOK
	DelayedOK
	PositionReport
	// TemperatureReport is used by temperature queries only.
	TemperatureReport
)

var policies = []string{
	NoWait:            "none",
	SimpleOK:          "ok",
	DelayedOK:         "delayed_ok",
	PositionReport:    "position",
	TemperatureReport: "temperature",
}

func (p Policy) String() string {
	if int(p) < len(policies) {
		return policies[p]
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// PolicyFor selects the completion policy for a command.
func PolicyFor(spec gcode.Spec) Policy {
	switch {
	case !spec.WaitAfter:
		return NoWait
	case spec.Name == gcode.HomeCommand:
		return PositionReport
	case spec.Barrier:
		return DelayedOK
	case spec.Name == gcode.DwellCommand:
		return SimpleOK
	}
	return SimpleOK
}

// Timeouts are the tunable durations of the wait loop.
type Timeouts struct {
	// Wait bounds every wait unless the caller's context carries a deadline.
	Wait time.Duration
	// Poll is the longest single pop before deadline and connection are rechecked.
	Poll time.Duration
	// Debounce is how long after a delayed-ok wait starts an "ok" counts as premature.
	Debounce time.Duration
	// Query bounds a position or temperature query.
	Query time.Duration
	// SearchAfterOK is how long a query keeps looking for its report once "ok" arrived.
	SearchAfterOK time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Wait:          120 * time.Second,
		Poll:          time.Second,
		Debounce:      1500 * time.Millisecond,
		Query:         5 * time.Second,
		SearchAfterOK: 2 * time.Second,
	}
}

// orDefault replaces non-positive bounds with their defaults. A zero
// Debounce is kept.
func (t Timeouts) orDefault() Timeouts {
	def := DefaultTimeouts()
	if t.Wait <= 0 {
		t.Wait = def.Wait
	}
	if t.Poll <= 0 {
		t.Poll = def.Poll
	}
	if t.Query <= 0 {
		t.Query = def.Query
	}
	if t.SearchAfterOK <= 0 {
		t.SearchAfterOK = def.SearchAfterOK
	}
	if t.Debounce < 0 {
		t.Debounce = 0
	}
	return t
}

// waiter drains a stream until a line matches, the deadline passes or the
// connection goes away.
type waiter struct {
	stream   *comm.Stream
	alive    func() bool
	poll     time.Duration
	deadline time.Time
	logger   *zap.Logger
	observe  func(comm.Line)
}

func (w *waiter) wait(ctx context.Context, match func(comm.Line) bool) (comm.Line, error) {
	for {
		remaining := time.Until(w.deadline)
		if remaining <= 0 {
			return comm.Line{}, ErrWaitTimeout
		}
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return comm.Line{}, ErrWaitTimeout
			}
			return comm.Line{}, fmt.Errorf("%w: %w", ErrWaitAborted, err)
		}
		l, ok := w.stream.Pop(min(w.poll, remaining))
		if !ok {
			if !w.alive() {
				cause := w.stream.Err()
				if cause == nil {
					cause = comm.ErrClosed
				}
				return comm.Line{}, fmt.Errorf("%w: %w", ErrWaitAborted, cause)
			}
			continue
		}
		if w.observe != nil {
			w.observe(l)
		}
		if marlin.IsNoise(l.Text) {
			continue
		}
		if match(l) {
			return l, nil
		}
		w.unmatched(l)
	}
}

func (w *waiter) unmatched(l comm.Line) {
	if upd, err := marlin.ParseLine(l.Text); err == nil {
		if f, ok := upd.(*marlin.Fault); ok {
			w.logger.Warn("Firmware reported an error", zap.String("msg", f.Message))
			return
		}
	}
	w.logger.Debug("Skipping line", zap.String("msg", l.Text))
}

func simpleOK(l comm.Line) bool {
	return marlin.IsAck(l.Text)
}

// delayedOK accepts an ok-terminated line received at least debounce after start.
func delayedOK(start time.Time, debounce time.Duration, logger *zap.Logger) func(comm.Line) bool {
	return func(l comm.Line) bool {
		if !marlin.EndsWithAck(l.Text) {
			return false
		}
		if age := l.ReceivedAt.Sub(start); age < debounce {
			logger.Debug("Ignoring premature ok", zap.Duration("after", age))
			return false
		}
		return true
	}
}

func positionReport(l comm.Line) bool {
	return marlin.IsPositionReport(l.Text)
}

func matcher(p Policy, start time.Time, t Timeouts, logger *zap.Logger) func(comm.Line) bool {
	switch p {
	case DelayedOK:
		return delayedOK(start, t.Debounce, logger)
	case PositionReport:
		return positionReport
	}
	return simpleOK
}
