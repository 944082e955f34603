package env

import (
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"io/fs"
	"os"
	"strconv"
	"time"
)

const (
	ModeWiFi   = "wifi"
	ModeSerial = "serial"
)

var ErrInvalid = errors.New("invalid environment")

type Environment struct {
	Mode string

	SerialPort        string
	Baud              int
	SerialReadTimeout time.Duration
	SerialSettle      time.Duration

	HTTPURL          string
	WSURL            string
	CommandPath      string
	Subprotocol      string
	HTTPSendTimeout  time.Duration
	WSConnectTimeout time.Duration
	WSSettle         time.Duration

	WaitTimeout   time.Duration
	WaitPoll      time.Duration
	OKDebounce    time.Duration
	QueryTimeout  time.Duration
	SearchAfterOK time.Duration

	CommandTable string
	StorePath    string
	MetricsAddr  string

	URI      string
	Exchange string
	DeviceID string

	SafeZ        float64
	DefaultSpeed float64
	MMPerML      float64
	DefaultRate  float64
	MaxTemp      float64
	InitGCode    string
}

// LoadEnv reads the given dotenv files into the process environment, then
// builds the Environment from it. With no files it tries ./.env and carries
// on if there is none. Unset keys take their defaults.
func LoadEnv(logger *zap.Logger, files ...string) (*Environment, error) {
	err := godotenv.Load(files...)
	if err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env: %w", err)
		}
		logger.Debug("No .env file, using process environment")
	}
	var p parser
	e := &Environment{
		Mode:              p.str("BENCH_MODE", ModeWiFi),
		SerialPort:        p.str("SERIAL_PORT", ""),
		Baud:              p.int("SERIAL_BAUD", 115200),
		SerialReadTimeout: p.positive("SERIAL_READ_TIMEOUT", time.Second),
		SerialSettle:      p.duration("SERIAL_SETTLE", 2*time.Second),
		HTTPURL:           p.str("ESP3D_HTTP_URL", "http://192.168.0.1:80"),
		WSURL:             p.str("ESP3D_WS_URL", "ws://192.168.0.1:81/"),
		CommandPath:       p.str("ESP3D_COMMAND_PATH", "/command"),
		Subprotocol:       p.str("ESP3D_SUBPROTOCOL", "arduino"),
		HTTPSendTimeout:   p.positive("HTTP_SEND_TIMEOUT", 15*time.Second),
		WSConnectTimeout:  p.positive("WS_CONNECT_TIMEOUT", 10*time.Second),
		WSSettle:          p.duration("WS_SETTLE", 500*time.Millisecond),
		WaitTimeout:       p.positive("WAIT_TIMEOUT", 120*time.Second),
		WaitPoll:          p.positive("WAIT_POLL", time.Second),
		OKDebounce:        p.duration("OK_DEBOUNCE", 1500*time.Millisecond),
		QueryTimeout:      p.positive("QUERY_TIMEOUT", 5*time.Second),
		SearchAfterOK:     p.positive("SEARCH_AFTER_OK", 2*time.Second),
		CommandTable:      p.str("COMMAND_TABLE", ""),
		StorePath:         p.str("STORE_PATH", "benchtop.db"),
		MetricsAddr:       p.str("METRICS_ADDR", ":9090"),
		URI:               p.str("RABBITMQ_URI", ""),
		Exchange:          p.str("AMQP_EXCHANGE", "benchtop"),
		DeviceID:          p.str("DEVICE_ID", "bench"),
		SafeZ:             p.float("ROBOT_SAFE_Z", 50),
		DefaultSpeed:      p.float("ROBOT_DEFAULT_SPEED", 3000),
		MMPerML:           p.float("PUMP_MM_PER_ML", 1),
		DefaultRate:       p.float("PUMP_DEFAULT_RATE", 5),
		MaxTemp:           p.float("HOTPLATE_MAX_TEMP", 150),
		InitGCode:         p.str("INIT_GCODE", ""),
	}
	switch e.Mode {
	case ModeWiFi:
	case ModeSerial:
		if e.SerialPort == "" {
			p.fail("SERIAL_PORT", "required in serial mode")
		}
	default:
		p.fail("BENCH_MODE", fmt.Sprintf("%q is neither %s nor %s", e.Mode, ModeWiFi, ModeSerial))
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	logger.Info("Loaded environment", zap.String("mode", e.Mode), zap.String("device", e.DeviceID))
	return e, nil
}

type parser struct {
	errs []error
}

func (p *parser) fail(key, msg string) {
	p.errs = append(p.errs, fmt.Errorf("%w: %s %s", ErrInvalid, key, msg))
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err.Error())
		return def
	}
	return i
}

func (p *parser) float(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err.Error())
		return def
	}
	return f
}

// duration accepts Go durations ("1m30s") or bare seconds ("0.5"). Negative
// values are rejected.
func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		s, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			p.fail(key, fmt.Sprintf("%q is not a duration", v))
			return def
		}
		d = time.Duration(s * float64(time.Second))
	}
	if d < 0 {
		p.fail(key, fmt.Sprintf("%q is negative", v))
		return def
	}
	return d
}

// positive is duration for values that must be above zero.
func (p *parser) positive(key string, def time.Duration) time.Duration {
	d := p.duration(key, def)
	if d == 0 {
		p.fail(key, "must be greater than zero")
		return def
	}
	return d
}
