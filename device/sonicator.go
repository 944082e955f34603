package device

import (
	"context"
	"errors"
	"fmt"
	"github.com/jt05610/benchtop/gcode"
	"go.uber.org/zap"
	"time"
)

// dwellMargin is added to a dwell's own length to bound its wait.
const dwellMargin = 10 * time.Second

// Sonicator is a sonicator bath switched through the fan output relay.
type Sonicator struct {
	driver Driver
	logger *zap.Logger
}

func NewSonicator(d Driver, logger *zap.Logger) *Sonicator {
	return &Sonicator{driver: d, logger: logger}
}

// Sonicate runs the bath for d. The fan output is switched off afterwards
// whatever happened in between.
func (s *Sonicator) Sonicate(ctx context.Context, d time.Duration) error {
	ms := d.Milliseconds()
	if ms <= 0 {
		return fmt.Errorf("%w: duration %v must be at least 1ms", ErrOutOfRange, d)
	}
	err := s.run(ctx, d, ms)
	if off := s.driver.Send(context.WithoutCancel(ctx), "fan_off", nil); off != nil {
		s.logger.Error("Sonicator may still be on", zap.Error(off))
		return errors.Join(err, fmt.Errorf("fan off: %w", off))
	}
	return err
}

func (s *Sonicator) run(ctx context.Context, d time.Duration, ms int64) error {
	if err := s.driver.Send(ctx, "fan_on", nil); err != nil {
		return fmt.Errorf("fan on: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, d+dwellMargin)
	defer cancel()
	s.logger.Info("Sonicating", zap.Duration("duration", d))
	if err := s.driver.Send(ctx, gcode.DwellCommand, gcode.Params{"duration_ms": ms}); err != nil {
		return fmt.Errorf("dwell: %w", err)
	}
	return nil
}
