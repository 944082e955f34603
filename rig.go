package benchtop

import (
	"context"
	"errors"
	"fmt"
	"github.com/jt05610/benchtop/comm"
	"github.com/jt05610/benchtop/comm/serial"
	"github.com/jt05610/benchtop/comm/wifi"
	"github.com/jt05610/benchtop/device"
	"github.com/jt05610/benchtop/dispatch"
	"github.com/jt05610/benchtop/env"
	"github.com/jt05610/benchtop/gcode"
	"github.com/jt05610/benchtop/metrics"
	"github.com/jt05610/benchtop/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"os"
)

var ErrMode = errors.New("unknown transport mode")

// NewTransport builds the transport selected by BENCH_MODE. It does not connect.
func NewTransport(environ *env.Environment, logger *zap.Logger) (comm.Transport, error) {
	switch environ.Mode {
	case env.ModeSerial:
		cfg := serial.DefaultConfig(environ.SerialPort, environ.Baud)
		cfg.ReadTimeout = environ.SerialReadTimeout
		cfg.Settle = environ.SerialSettle
		return serial.New(cfg, logger.Named("serial")), nil
	case env.ModeWiFi:
		cfg := wifi.DefaultConfig(environ.HTTPURL, environ.WSURL)
		cfg.CommandPath = environ.CommandPath
		cfg.Subprotocol = environ.Subprotocol
		cfg.SendTimeout = environ.HTTPSendTimeout
		cfg.ConnectTimeout = environ.WSConnectTimeout
		cfg.Settle = environ.WSSettle
		return wifi.New(cfg, logger.Named("wifi")), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrMode, environ.Mode)
}

// Registry loads COMMAND_TABLE when set, the built-in table otherwise.
func Registry(environ *env.Environment) (*gcode.Registry, error) {
	if environ.CommandTable == "" {
		return gcode.Default(), nil
	}
	f, err := os.Open(environ.CommandTable)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	reg, err := gcode.Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", environ.CommandTable, err)
	}
	return reg, nil
}

func Timeouts(environ *env.Environment) dispatch.Timeouts {
	return dispatch.Timeouts{
		Wait:          environ.WaitTimeout,
		Poll:          environ.WaitPoll,
		Debounce:      environ.OKDebounce,
		Query:         environ.QueryTimeout,
		SearchAfterOK: environ.SearchAfterOK,
	}
}

// Rig is the assembled bench: one dispatcher shared by every device.
type Rig struct {
	Env        *env.Environment
	Dispatcher *dispatch.Dispatcher
	Store      *store.Store
	Metrics    *metrics.Collector
	Robot      *device.Robot
	Pump       *device.Pump
	Sonicator  *device.Sonicator
	Hotplate   *device.Hotplate
	logger     *zap.Logger
}

// New wires the rig. Metrics are registered on reg when it is non-nil.
// Nothing is connected until the first command.
func New(environ *env.Environment, logger *zap.Logger, reg prometheus.Registerer) (*Rig, error) {
	t, err := NewTransport(environ, logger)
	if err != nil {
		return nil, err
	}
	table, err := Registry(environ)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(environ.StorePath)
	if err != nil {
		return nil, err
	}
	m := metrics.New(reg)
	d := dispatch.New(t, table, logger.Named("dispatch"),
		dispatch.WithTimeouts(Timeouts(environ)),
		dispatch.WithJournal(s),
		dispatch.WithMetrics(m),
	)
	robotCfg := device.DefaultRobotConfig(environ.SafeZ)
	robotCfg.DefaultSpeed = environ.DefaultSpeed
	return &Rig{
		Env:        environ,
		Dispatcher: d,
		Store:      s,
		Metrics:    m,
		Robot:      device.NewRobot(d, s, robotCfg, logger.Named("robot")),
		Pump:       device.NewPump(d, device.PumpConfig{MMPerML: environ.MMPerML, DefaultRate: environ.DefaultRate}, logger.Named("pump")),
		Sonicator:  device.NewSonicator(d, logger.Named("sonicator")),
		Hotplate:   device.NewHotplate(d, environ.MaxTemp, logger.Named("hotplate")),
		logger:     logger,
	}, nil
}

// ApplyInit opens the transport and sends INIT_GCODE, if configured.
func (r *Rig) ApplyInit(ctx context.Context) error {
	if r.Env.InitGCode == "" {
		return nil
	}
	f, err := os.Open(r.Env.InitGCode)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	if !r.Dispatcher.IsOpen() {
		if err := r.Dispatcher.Open(ctx); err != nil {
			return err
		}
	}
	return r.Robot.ApplyInit(ctx, f)
}

func (r *Rig) Close() error {
	return errors.Join(r.Dispatcher.Close(), r.Store.Close())
}
