package device

import (
	"context"
	"errors"
	"github.com/jt05610/benchtop/gcode"
	"github.com/jt05610/benchtop/marlin"
	"github.com/jt05610/benchtop/store"
)

var (
	// ErrOutOfRange means an argument is outside what the hardware accepts.
	ErrOutOfRange  = errors.New("argument out of range")
	ErrNoLocations = errors.New("no location store configured")
)

// Driver is the command surface the device facades use. *dispatch.Dispatcher
// satisfies it.
type Driver interface {
	Send(ctx context.Context, name string, params gcode.Params) error
	SendRaw(ctx context.Context, text string) error
	GetPosition(ctx context.Context) (marlin.Position, error)
	Temperatures(ctx context.Context) (marlin.Temperature, error)
}

// Locations persists named robot positions. *store.Store satisfies it.
type Locations interface {
	SaveLocation(ctx context.Context, name string, x, y, z float64) (*store.Location, error)
	Location(ctx context.Context, name string) (*store.Location, error)
	Locations(ctx context.Context) ([]store.Location, error)
}
