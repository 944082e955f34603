package serial

import (
	"context"
	"errors"
	"go.bug.st/serial"
	"go.uber.org/zap/zaptest"
	"io"
	"sync"
	"testing"
	"time"
)

// loopback is an in-memory Port. Bytes fed with feed are returned by Read;
// writes are collected in written.
type loopback struct {
	mu       sync.Mutex
	rx       chan []byte
	written  [][]byte
	timeout  time.Duration
	closed   chan struct{}
	once     sync.Once
	flushed  bool
	writeErr error
	readErr  error
}

func newLoopback() *loopback {
	return &loopback{
		rx:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (l *loopback) feed(s string) {
	l.rx <- []byte(s)
}

func (l *loopback) Read(p []byte) (int, error) {
	l.mu.Lock()
	timeout, readErr := l.timeout, l.readErr
	l.mu.Unlock()
	if readErr != nil {
		return 0, readErr
	}
	select {
	case <-l.closed:
		return 0, errors.New("port closed")
	case b := <-l.rx:
		return copy(p, b), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (l *loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return 0, l.writeErr
	}
	l.written = append(l.written, append([]byte(nil), p...))
	return len(p), nil
}

func (l *loopback) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *loopback) ResetInputBuffer() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushed = true
	for {
		select {
		case <-l.rx:
		default:
			return nil
		}
	}
}

func (l *loopback) SetReadTimeout(t time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeout = t
	return nil
}

func (l *loopback) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ret := make([]string, 0, len(l.written))
	for _, w := range l.written {
		ret = append(ret, string(w))
	}
	return ret
}

func testTransport(t *testing.T, port *loopback) *Transport {
	t.Helper()
	cfg := Config{Port: "/dev/ttyFAKE", Baud: 115200, ReadTimeout: 20 * time.Millisecond, Settle: 10 * time.Millisecond}
	tr := New(cfg, zaptest.NewLogger(t), WithOpener(func(name string, mode *serial.Mode) (Port, error) {
		if mode.BaudRate != 115200 {
			t.Fatalf("expected baud 115200, got %d", mode.BaudRate)
		}
		return port, nil
	}))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestOpenFlushesBootNoise(t *testing.T) {
	port := newLoopback()
	port.feed("start\nechoboot\n")
	tr := testTransport(t, port)
	if err := tr.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !port.flushed {
		t.Fatal("expected input buffer reset after settle")
	}
	if !tr.IsOpen() {
		t.Fatal("expected open transport")
	}
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("second open should be a no-op: %v", err)
	}
	if _, ok := tr.Stream().Pop(50 * time.Millisecond); ok {
		t.Fatal("boot noise leaked into the stream")
	}
}

func TestReceiveSplitsLines(t *testing.T) {
	port := newLoopback()
	tr := testTransport(t, port)
	if err := tr.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	port.feed("X:1.00 Y:2.00 Z:3.00 E:0.00\r\no")
	port.feed("k\r\n\r\n")
	port.feed(string([]byte{0xff, 0xfe, '\n'}))
	port.feed("echo:busy: processing\n")
	for _, want := range []string{"X:1.00 Y:2.00 Z:3.00 E:0.00", "ok", "echo:busy: processing"} {
		l, ok := tr.Stream().Pop(time.Second)
		if !ok {
			t.Fatalf("expected %q, got nothing", want)
		}
		if l.Text != want {
			t.Fatalf("expected %q, got %q", want, l.Text)
		}
	}
}

func TestSendRawAppendsTerminator(t *testing.T) {
	port := newLoopback()
	tr := testTransport(t, port)
	if err := tr.SendRaw(context.Background(), "G28"); err == nil {
		t.Fatal("expected error sending on closed transport")
	}
	if err := tr.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := tr.SendRaw(context.Background(), "G28"); err != nil {
		t.Fatal(err)
	}
	if got := port.lines(); len(got) != 1 || got[0] != "G28\n" {
		t.Fatalf("unexpected writes %q", got)
	}
}

func TestWriteFailureCloses(t *testing.T) {
	port := newLoopback()
	tr := testTransport(t, port)
	if err := tr.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	port.mu.Lock()
	port.writeErr = io.ErrClosedPipe
	port.mu.Unlock()
	if err := tr.SendRaw(context.Background(), "M400"); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected write error, got %v", err)
	}
	if tr.IsOpen() {
		t.Fatal("expected transport to close after write failure")
	}
	if tr.Stream().Err() == nil {
		t.Fatal("expected stream to be shut")
	}
}

func TestReadFailureMarksClosed(t *testing.T) {
	port := newLoopback()
	tr := testTransport(t, port)
	if err := tr.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	port.mu.Lock()
	port.readErr = errors.New("device unplugged")
	port.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	for tr.IsOpen() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tr.IsOpen() {
		t.Fatal("expected receiver to mark the transport closed")
	}
	if _, ok := tr.Stream().Pop(time.Second); ok {
		t.Fatal("expected empty pop from dead stream")
	}
}

func TestCloseIdempotent(t *testing.T) {
	tr := testTransport(t, newLoopback())
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if tr.IsOpen() {
		t.Fatal("expected closed")
	}
}

func TestOpenFailureRetry(t *testing.T) {
	port := newLoopback()
	attempts := 0
	cfg := Config{Port: "/dev/ttyFAKE", Baud: 9600, ReadTimeout: 20 * time.Millisecond}
	tr := New(cfg, zaptest.NewLogger(t), WithOpener(func(string, *serial.Mode) (Port, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("busy")
		}
		return port, nil
	}))
	defer func() { _ = tr.Close() }()
	if err := tr.Open(context.Background()); err == nil {
		t.Fatal("expected first open to fail")
	}
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
}
