package dispatch

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/jt05610/benchtop/comm"
	"github.com/jt05610/benchtop/gcode"
	"github.com/jt05610/benchtop/marlin"
	"github.com/jt05610/benchtop/metrics"
	"go.uber.org/zap"
	"sync"
	"time"
)

// Journal directions.
const (
	Tx     = "tx"
	Rx     = "rx"
	Result = "result"
)

// Journal records the lines exchanged during each dispatch.
type Journal interface {
	Record(ctx context.Context, dispatchID, command, direction, text string) error
}

// Dispatcher turns named commands into G-code, sends them and waits for
// completion. Dispatches are serialised: one command owns the transport
// from its first send until its wait resolves.
type Dispatcher struct {
	mu        sync.Mutex
	transport comm.Transport
	registry  *gcode.Registry
	logger    *zap.Logger
	timeouts  Timeouts
	journal   Journal
	metrics   *metrics.Collector
	tracker   tracker
}

type Option func(*Dispatcher)

func WithTimeouts(t Timeouts) Option {
	return func(d *Dispatcher) {
		d.timeouts = t
	}
}

func WithJournal(j Journal) Option {
	return func(d *Dispatcher) {
		d.journal = j
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(d *Dispatcher) {
		d.metrics = c
	}
}

func New(t comm.Transport, reg *gcode.Registry, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		registry:  reg,
		logger:    logger,
		timeouts:  DefaultTimeouts(),
	}
	for _, o := range opts {
		o(d)
	}
	d.timeouts = d.timeouts.orDefault()
	return d
}

func (d *Dispatcher) Registry() *gcode.Registry {
	return d.registry
}

func (d *Dispatcher) Timeouts() Timeouts {
	return d.timeouts
}

func (d *Dispatcher) IsOpen() bool {
	return d.transport.IsOpen()
}

func (d *Dispatcher) Open(ctx context.Context) error {
	if err := d.transport.Open(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return nil
}

// Close closes the transport. A dispatch waiting on it fails with ErrWaitAborted.
func (d *Dispatcher) Close() error {
	return d.transport.Close()
}

// Estimate returns the tracked position and whether any report has been seen.
func (d *Dispatcher) Estimate() (Estimate, bool) {
	return d.tracker.estimate()
}

func (d *Dispatcher) ensureOpen(ctx context.Context, logger *zap.Logger) error {
	if d.transport.IsOpen() {
		return nil
	}
	logger.Info("Transport closed, opening")
	return d.Open(ctx)
}

func (d *Dispatcher) record(ctx context.Context, id, command, direction, text string) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Record(ctx, id, command, direction, text); err != nil {
		d.logger.Warn("Failed to journal line", zap.String("dispatch", id), zap.Error(err))
	}
}

// write sends one line, warning first when it moves the machine.
func (d *Dispatcher) write(ctx context.Context, id, command string, logger *zap.Logger, text string) error {
	if gcode.IsMotion(text) {
		logger.Warn("Motion command outgoing, keep clear of the rig", zap.String("gcode", text))
		d.metrics.MotionWarning()
	}
	d.record(ctx, id, command, Tx, text)
	if err := d.transport.SendRaw(ctx, text); err != nil {
		d.tracker.invalidate()
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	d.tracker.sent(text)
	return nil
}

func (d *Dispatcher) alive() bool {
	return d.transport.IsOpen() && d.transport.Stream().Err() == nil
}

func (d *Dispatcher) newWaiter(ctx context.Context, id, command string, logger *zap.Logger, deadline time.Time) *waiter {
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	return &waiter{
		stream:   d.transport.Stream(),
		alive:    d.alive,
		poll:     d.timeouts.Poll,
		deadline: deadline,
		logger:   logger,
		observe: func(l comm.Line) {
			if marlin.IsNoise(l.Text) {
				d.metrics.Line("noise")
			} else {
				d.metrics.Line("response")
			}
			d.record(ctx, id, command, Rx, l.Text)
		},
	}
}

// SendRaw writes text as-is. It does not open the transport or wait.
func (d *Dispatcher) SendRaw(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.NewString()
	logger := d.logger.With(zap.String("dispatch", id))
	if !d.transport.IsOpen() {
		logger.Error("Raw send on closed transport", zap.String("gcode", text))
		return fmt.Errorf("%w: %w", ErrConnection, comm.ErrClosed)
	}
	if err := d.write(ctx, id, "raw", logger, text); err != nil {
		logger.Error("Raw send failed", zap.String("gcode", text), zap.Error(err))
		return err
	}
	logger.Debug("Raw send", zap.String("gcode", text))
	return nil
}

type outcome struct {
	gcode  string
	policy Policy
	wait   time.Duration
	err    error
}

// Send dispatches a named command and blocks until its completion policy is
// satisfied. The wait is bounded by the context deadline when one is set,
// otherwise by Timeouts.Wait.
func (d *Dispatcher) Send(ctx context.Context, name string, params gcode.Params) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.NewString()
	logger := d.logger.With(zap.String("dispatch", id), zap.String("command", name))
	start := time.Now()
	res := d.dispatch(ctx, id, name, params, logger)
	d.finish(ctx, id, name, logger, res, time.Since(start))
	return res.err
}

func (d *Dispatcher) finish(ctx context.Context, id, name string, logger *zap.Logger, res outcome, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("gcode", res.gcode),
		zap.Stringer("policy", res.policy),
		zap.Duration("elapsed", elapsed),
		zap.Duration("wait", res.wait),
	}
	if res.err != nil {
		logger.Error("Dispatch failed", append(fields, zap.Error(res.err))...)
	} else {
		logger.Info("Dispatch complete", fields...)
	}
	label := name
	if _, err := d.registry.Lookup(name); err != nil {
		label = "unknown"
	}
	d.metrics.ObserveDispatch(label, res.policy.String(), Outcome(res.err), elapsed)
	d.record(ctx, id, name, Result, Outcome(res.err))
}

func (d *Dispatcher) dispatch(ctx context.Context, id, name string, params gcode.Params, logger *zap.Logger) (res outcome) {
	spec, err := d.registry.Lookup(name)
	if err != nil {
		res.err = err
		return
	}
	res.policy = PolicyFor(spec)
	res.gcode, err = spec.Format(params)
	if err != nil {
		res.err = err
		return
	}
	if err := d.ensureOpen(ctx, logger); err != nil {
		res.err = err
		return
	}
	stream := d.transport.Stream()
	stream.Clear()
	if res.err = d.write(ctx, id, spec.Name, logger, res.gcode); res.err != nil {
		return
	}
	if res.policy == NoWait {
		return
	}
	if spec.Barrier {
		barrier, err := d.registry.Barrier()
		if err != nil {
			res.err = err
			return
		}
		text, err := barrier.Format(nil)
		if err != nil {
			res.err = err
			return
		}
		stream.Clear()
		if res.err = d.write(ctx, id, spec.Name, logger, text); res.err != nil {
			return
		}
	}
	start := time.Now()
	w := d.newWaiter(ctx, id, spec.Name, logger, start.Add(d.timeouts.Wait))
	line, err := w.wait(ctx, matcher(res.policy, start, d.timeouts, logger))
	res.wait = time.Since(start)
	if err != nil {
		res.err = err
		if gcode.IsMotion(res.gcode) {
			d.tracker.invalidate()
		}
		return
	}
	if res.policy == PositionReport {
		if pos, ok := marlin.ParsePosition(line.Text); ok {
			d.tracker.confirm(pos)
		}
	}
	return
}
