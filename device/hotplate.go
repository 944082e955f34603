package device

import (
	"context"
	"errors"
	"github.com/jt05610/benchtop/gcode"
	"github.com/jt05610/benchtop/marlin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"sync"
	"time"
)

var ErrNoBedReading = errors.New("temperature report has no bed reading")

// HeatTimeout bounds HeatAndWait when the caller sets no deadline.
const HeatTimeout = 10 * time.Minute

// Hotplate is the heated bed.
type Hotplate struct {
	driver  Driver
	logger  *zap.Logger
	maxTemp float64
	mu      sync.Mutex
	target  float64
}

func NewHotplate(d Driver, maxTemp float64, logger *zap.Logger) *Hotplate {
	if maxTemp <= 0 {
		maxTemp = 150
	}
	return &Hotplate{driver: d, maxTemp: maxTemp, logger: logger}
}

func (h *Hotplate) clamp(c float64) float64 {
	switch {
	case c < 0:
		h.logger.Warn("Negative target, using 0", zap.Float64("target", c))
		return 0
	case c > h.maxTemp:
		h.logger.Warn("Target above maximum, limiting", zap.Float64("target", c), zap.Float64("max", h.maxTemp))
		return h.maxTemp
	}
	return c
}

func (h *Hotplate) set(ctx context.Context, command string, c float64) error {
	c = h.clamp(c)
	s := decimal.NewFromFloat(c).Round(1)
	if err := h.driver.Send(ctx, command, gcode.Params{"S": s}); err != nil {
		return err
	}
	h.mu.Lock()
	h.target, _ = s.Float64()
	h.mu.Unlock()
	return nil
}

// SetTemperature sets the target in °C without waiting for it.
func (h *Hotplate) SetTemperature(ctx context.Context, c float64) error {
	return h.set(ctx, "set_bed_temp", c)
}

// HeatAndWait sets the target and blocks until the firmware reports it reached.
func (h *Hotplate) HeatAndWait(ctx context.Context, c float64) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, HeatTimeout)
		defer cancel()
	}
	return h.set(ctx, "set_bed_temp_wait", c)
}

func (h *Hotplate) TurnOff(ctx context.Context) error {
	return h.set(ctx, "set_bed_temp", 0)
}

// Temperature queries the bed's current and target temperature.
func (h *Hotplate) Temperature(ctx context.Context) (marlin.Reading, error) {
	t, err := h.driver.Temperatures(ctx)
	if err != nil {
		return marlin.Reading{}, err
	}
	if t.Bed == nil {
		return marlin.Reading{}, ErrNoBedReading
	}
	return *t.Bed, nil
}

// Target is the last target successfully sent.
func (h *Hotplate) Target() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target
}

func (h *Hotplate) IsHeating() bool {
	return h.Target() > 0
}
