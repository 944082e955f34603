package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/jt05610/benchtop/gcode"
	"github.com/jt05610/benchtop/marlin"
	"github.com/jt05610/benchtop/store"
	"go.uber.org/zap"
	"io"
	"math"
	"strings"
	"time"
)

type RobotConfig struct {
	// SafeZ is a height at which XY travel cannot collide with anything on the deck.
	SafeZ float64
	// DefaultSpeed is the feedrate in mm/min used when a call passes no speed.
	DefaultSpeed float64
	// InitPace separates raw lines sent by ApplyInit.
	InitPace time.Duration
}

func DefaultRobotConfig(safeZ float64) RobotConfig {
	return RobotConfig{SafeZ: safeZ, DefaultSpeed: 3000, InitPace: 50 * time.Millisecond}
}

// Robot drives the three Cartesian axes.
type Robot struct {
	cfg       RobotConfig
	driver    Driver
	locations Locations
	logger    *zap.Logger
}

func NewRobot(d Driver, locs Locations, cfg RobotConfig, logger *zap.Logger) *Robot {
	return &Robot{cfg: cfg, driver: d, locations: locs, logger: logger}
}

func (r *Robot) SafeZ() float64 {
	return r.cfg.SafeZ
}

func (r *Robot) speed(s float64) float64 {
	if s > 0 {
		return s
	}
	if s < 0 {
		r.logger.Warn("Invalid speed, using default", zap.Float64("speed", s))
	}
	return r.cfg.DefaultSpeed
}

// Home homes all axes, then refreshes the position. A failed refresh is
// logged but does not fail the homing.
func (r *Robot) Home(ctx context.Context) error {
	if err := r.driver.Send(ctx, gcode.HomeCommand, nil); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	pos, err := r.driver.GetPosition(ctx)
	if err != nil {
		r.logger.Warn("Position unknown after homing", zap.Error(err))
		return nil
	}
	r.logger.Info("Homed", zap.Any("position", pos))
	return nil
}

func (r *Robot) Position(ctx context.Context) (marlin.Position, error) {
	return r.driver.GetPosition(ctx)
}

func (r *Robot) MoveZ(ctx context.Context, z, speed float64) error {
	return r.driver.Send(ctx, "move", gcode.Params{"Z": z, "F": r.speed(speed)})
}

func (r *Robot) MoveXY(ctx context.Context, x, y, speed float64) error {
	return r.driver.Send(ctx, "move", gcode.Params{"X": x, "Y": y, "F": r.speed(speed)})
}

// MoveTo raises to safe Z, travels in XY, then lowers to z.
func (r *Robot) MoveTo(ctx context.Context, x, y, z, speed float64) error {
	speed = r.speed(speed)
	if err := r.MoveZ(ctx, r.cfg.SafeZ, speed); err != nil {
		return fmt.Errorf("raise to safe z: %w", err)
	}
	if err := r.MoveXY(ctx, x, y, speed); err != nil {
		return fmt.Errorf("travel: %w", err)
	}
	if math.Abs(z-r.cfg.SafeZ) <= 1e-3 {
		return nil
	}
	if err := r.MoveZ(ctx, z, speed); err != nil {
		return fmt.Errorf("lower: %w", err)
	}
	return nil
}

// MoveRelative jogs by the given offsets using raw G91/G1/G90. Absolute
// positioning is restored even when the move fails.
func (r *Robot) MoveRelative(ctx context.Context, dx, dy, dz, speed float64) error {
	var b strings.Builder
	b.WriteString("G1")
	for _, ax := range []struct {
		name string
		v    float64
	}{{"X", dx}, {"Y", dy}, {"Z", dz}} {
		if ax.v != 0 {
			fmt.Fprintf(&b, " %s%.3f", ax.name, ax.v)
		}
	}
	lines := []string{"G91"}
	if b.Len() > 2 {
		fmt.Fprintf(&b, " F%.1f", r.speed(speed))
		lines = append(lines, b.String())
	}
	var err error
	for _, l := range lines {
		if err = r.driver.SendRaw(ctx, l); err != nil {
			break
		}
	}
	if restore := r.driver.SendRaw(context.WithoutCancel(ctx), "G90"); restore != nil {
		return errors.Join(err, fmt.Errorf("restore absolute positioning: %w", restore))
	}
	return err
}

func (r *Robot) MoveToLocation(ctx context.Context, name string, zOffset, speed float64) error {
	if r.locations == nil {
		return ErrNoLocations
	}
	loc, err := r.locations.Location(ctx, name)
	if err != nil {
		return err
	}
	return r.MoveTo(ctx, loc.X, loc.Y, loc.Z+zOffset, speed)
}

func (r *Robot) AddLocation(ctx context.Context, name string, x, y, z float64) (*store.Location, error) {
	if r.locations == nil {
		return nil, ErrNoLocations
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty location name", ErrOutOfRange)
	}
	return r.locations.SaveLocation(ctx, name, x, y, z)
}

func (r *Robot) Locations(ctx context.Context) ([]store.Location, error) {
	if r.locations == nil {
		return nil, ErrNoLocations
	}
	return r.locations.Locations(ctx)
}

func (r *Robot) SetAbsolute(ctx context.Context) error {
	return r.driver.Send(ctx, "set_absolute", nil)
}

func (r *Robot) SetRelative(ctx context.Context) error {
	return r.driver.Send(ctx, "set_relative", nil)
}

// InitLines reads G-code lines, dropping ';' comments and blank lines.
func InitLines(src io.Reader) ([]string, error) {
	var ret []string
	sc := bufio.NewScanner(src)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			ret = append(ret, line)
		}
	}
	return ret, sc.Err()
}

// ApplyInit sends each line of an init file raw. Every line is attempted;
// failures are joined.
func (r *Robot) ApplyInit(ctx context.Context, src io.Reader) error {
	lines, err := InitLines(src)
	if err != nil {
		return err
	}
	var errs []error
	for i, l := range lines {
		if i > 0 && r.cfg.InitPace > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(append(errs, ctx.Err())...)
			case <-time.After(r.cfg.InitPace):
			}
		}
		if err := r.driver.SendRaw(ctx, l); err != nil {
			r.logger.Error("Init line failed", zap.String("gcode", l), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", l, err))
		}
	}
	r.logger.Info("Applied init G-code", zap.Int("lines", len(lines)), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}
