package device

import (
	"context"
	"fmt"
	"github.com/jt05610/benchtop/gcode"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"math"
	"time"
)

const (
	MaxVolume   = 50.0
	MaxRate     = 80.0
	maxFeedrate = 400.0
)

type PumpConfig struct {
	// MMPerML is extruder travel per millilitre pumped.
	MMPerML float64
	// DefaultRate in mL/min is used when a call passes a zero rate.
	DefaultRate float64
}

func DefaultPumpConfig() PumpConfig {
	return PumpConfig{MMPerML: 1, DefaultRate: 5}
}

// Pump is a peristaltic pump on the extruder stepper.
type Pump struct {
	cfg    PumpConfig
	driver Driver
	logger *zap.Logger
}

func NewPump(d Driver, cfg PumpConfig, logger *zap.Logger) *Pump {
	return &Pump{cfg: cfg, driver: d, logger: logger}
}

func (p *Pump) rate(r float64) (float64, error) {
	if r == 0 {
		r = p.cfg.DefaultRate
	}
	if math.IsNaN(r) || math.Abs(r) > MaxRate {
		return 0, fmt.Errorf("%w: rate %v mL/min outside ±%v", ErrOutOfRange, r, MaxRate)
	}
	return r, nil
}

// Volume pumps ml millilitres at rate mL/min. A negative volume pumps backwards.
func (p *Pump) Volume(ctx context.Context, ml, rate float64) error {
	if math.IsNaN(ml) || math.Abs(ml) > MaxVolume {
		return fmt.Errorf("%w: volume %v mL outside ±%v", ErrOutOfRange, ml, MaxVolume)
	}
	rate, err := p.rate(rate)
	if err != nil {
		return err
	}
	return p.run(ctx, ml*p.cfg.MMPerML, math.Abs(rate*p.cfg.MMPerML))
}

// Duration pumps for d at rate mL/min. A negative rate pumps backwards.
func (p *Pump) Duration(ctx context.Context, d time.Duration, rate float64) error {
	if d <= 0 {
		return fmt.Errorf("%w: duration %v must be positive", ErrOutOfRange, d)
	}
	rate, err := p.rate(rate)
	if err != nil {
		return err
	}
	mmPerMin := rate * p.cfg.MMPerML
	return p.run(ctx, mmPerMin*d.Minutes(), math.Abs(mmPerMin))
}

func (p *Pump) run(ctx context.Context, distance, feedrate float64) error {
	if feedrate > maxFeedrate {
		p.logger.Warn("Pump feedrate unusually high", zap.Float64("mm_per_min", feedrate))
	}
	if err := p.driver.Send(ctx, "set_extruder_relative", nil); err != nil {
		return err
	}
	e := decimal.NewFromFloat(distance).Round(4)
	f := decimal.NewFromFloat(feedrate).Round(2)
	p.logger.Info("Pumping", zap.Stringer("e", e), zap.Stringer("f", f))
	return p.driver.Send(ctx, "pump_move", gcode.Params{"E": e, "F": f})
}
