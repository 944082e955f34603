package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/jt05610/benchtop/comm"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var _ comm.Transport = (*Transport)(nil)

// Port is the part of serial.Port the transport uses.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Opener opens a physical port.
type Opener func(name string, mode *serial.Mode) (Port, error)

func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}

func OpenPort(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	// Settle is how long to wait for the controller to reboot after the port opens.
	Settle time.Duration
}

func DefaultConfig(port string, baud int) Config {
	return Config{
		Port:        port,
		Baud:        baud,
		ReadTimeout: time.Second,
		Settle:      2 * time.Second,
	}
}

type Transport struct {
	cfg    Config
	open   Opener
	logger *zap.Logger
	stream *comm.Stream
	isOpen atomic.Bool

	mu   sync.Mutex
	port Port
	stop chan struct{}
	done chan struct{}

	wmu sync.Mutex
}

type Option func(*Transport)

// WithOpener replaces the function used to open the physical port.
func WithOpener(o Opener) Option {
	return func(t *Transport) {
		t.open = o
	}
}

func New(cfg Config, logger *zap.Logger, opts ...Option) *Transport {
	t := &Transport{
		cfg:    cfg,
		open:   OpenPort,
		logger: logger.With(zap.String("transport", "serial"), zap.String("port", cfg.Port)),
		stream: comm.NewStream(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transport) Stream() *comm.Stream {
	return t.stream
}

func (t *Transport) IsOpen() bool {
	return t.isOpen.Load()
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isOpen.Load() {
		return nil
	}
	t.teardown()
	p, err := t.open(t.cfg.Port, &serial.Mode{
		BaudRate: t.cfg.Baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", t.cfg.Port, err)
	}
	if err := p.SetReadTimeout(t.cfg.ReadTimeout); err != nil {
		_ = p.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}
	t.logger.Info("Port opened, waiting for controller", zap.Duration("settle", t.cfg.Settle))
	select {
	case <-ctx.Done():
		_ = p.Close()
		return ctx.Err()
	case <-time.After(t.cfg.Settle):
	}
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return fmt.Errorf("flush input: %w", err)
	}
	t.stream.Reset()
	t.port = p
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.isOpen.Store(true)
	go t.receive(p, t.stop, t.done)
	t.logger.Info("Serial transport open", zap.Int("baud", t.cfg.Baud))
	return nil
}

// teardown stops the receiver and closes the port. Callers hold mu.
func (t *Transport) teardown() error {
	if t.port == nil {
		return nil
	}
	t.isOpen.Store(false)
	close(t.stop)
	err := t.port.Close()
	select {
	case <-t.done:
	case <-time.After(t.cfg.ReadTimeout + time.Second):
		t.logger.Warn("Receiver did not exit in time")
	}
	t.port = nil
	return err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.teardown()
	t.stream.Shut(comm.ErrClosed)
	t.logger.Info("Serial transport closed")
	return err
}

// fail closes the transport after an I/O error so later calls fail fast.
func (t *Transport) fail(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.teardown(); err != nil {
		t.logger.Debug("Close after failure", zap.Error(err))
	}
	t.stream.Shut(cause)
}

func (t *Transport) SendRaw(_ context.Context, text string) error {
	if !t.isOpen.Load() {
		return comm.ErrClosed
	}
	t.mu.Lock()
	p := t.port
	t.mu.Unlock()
	if p == nil {
		return comm.ErrClosed
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	data := []byte(text + "\n")
	n, err := p.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		t.logger.Error("Write failed", zap.String("gcode", text), zap.Error(err))
		t.fail(err)
		return fmt.Errorf("write %q: %w", text, err)
	}
	return nil
}

func (t *Transport) receive(p Port, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 1024)
	var pending []byte
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := p.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				t.logger.Warn("Port reached EOF")
			} else {
				t.logger.Error("Read failed", zap.Error(err))
			}
			if t.isOpen.CompareAndSwap(true, false) {
				t.stream.Shut(err)
			}
			return
		}
		if n == 0 {
			continue
		}
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			t.deliver(pending[:i])
			pending = pending[i+1:]
		}
	}
}

func (t *Transport) deliver(raw []byte) {
	lines, err := comm.Lines(raw)
	if err != nil {
		t.logger.Warn("Dropping undecodable line", zap.Binary("raw", raw), zap.Error(err))
		return
	}
	for _, l := range lines {
		t.logger.Debug("Received message", zap.String("msg", l))
		t.stream.Push(l)
	}
}
