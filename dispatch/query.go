package dispatch

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/jt05610/benchtop/comm"
	"github.com/jt05610/benchtop/gcode"
	"github.com/jt05610/benchtop/marlin"
	"go.uber.org/zap"
	"time"
)

// GetPosition sends M114 and returns the reported coordinates. Marlin may
// print the report before or after its "ok"; after the ok the search goes on
// for at most Timeouts.SearchAfterOK.
func (d *Dispatcher) GetPosition(ctx context.Context) (marlin.Position, error) {
	pos, err := query(ctx, d, gcode.PositionCommand, PositionReport, marlin.ParsePosition)
	if err == nil {
		d.tracker.confirm(pos)
	}
	return pos, err
}

// Temperatures sends M105 and returns the parsed report.
func (d *Dispatcher) Temperatures(ctx context.Context) (marlin.Temperature, error) {
	return query(ctx, d, gcode.TempCommand, TemperatureReport, parseTemperature)
}

func parseTemperature(line string) (marlin.Temperature, bool) {
	upd, err := marlin.ParseLine(line)
	if err != nil {
		return marlin.Temperature{}, false
	}
	t, ok := upd.(*marlin.Temperature)
	if !ok {
		return marlin.Temperature{}, false
	}
	return *t, true
}

func query[T any](ctx context.Context, d *Dispatcher, name string, policy Policy, parse func(string) (T, bool)) (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.NewString()
	logger := d.logger.With(zap.String("dispatch", id), zap.String("command", name))
	start := time.Now()
	var (
		ret   T
		found bool
		acked bool
	)
	res := outcome{policy: policy}
	defer func() {
		d.finish(ctx, id, name, logger, res, time.Since(start))
	}()
	spec, err := d.registry.Lookup(name)
	if err != nil {
		res.err = err
		return ret, err
	}
	if res.gcode, res.err = spec.Format(nil); res.err != nil {
		return ret, res.err
	}
	if res.err = d.ensureOpen(ctx, logger); res.err != nil {
		return ret, res.err
	}
	d.transport.Stream().Clear()
	if res.err = d.write(ctx, id, spec.Name, logger, res.gcode); res.err != nil {
		return ret, res.err
	}
	w := d.newWaiter(ctx, id, spec.Name, logger, time.Now().Add(d.timeouts.Query))
	_, res.err = w.wait(ctx, func(l comm.Line) bool {
		if v, ok := parse(l.Text); ok {
			ret, found = v, true
			return true
		}
		if !acked && marlin.EndsWithAck(l.Text) {
			acked = true
			if cut := l.ReceivedAt.Add(d.timeouts.SearchAfterOK); cut.Before(w.deadline) {
				w.deadline = cut
			}
		}
		return false
	})
	res.wait = time.Since(start)
	if res.err != nil {
		if acked && !found {
			res.err = fmt.Errorf("%w: %s acknowledged without a report", res.err, res.gcode)
		}
		return ret, res.err
	}
	return ret, nil
}
