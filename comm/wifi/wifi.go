package wifi

import (
	"context"
	"fmt"
	"github.com/gorilla/websocket"
	"github.com/jt05610/benchtop/comm"
	"go.uber.org/zap"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var _ comm.Transport = (*Transport)(nil)

type Config struct {
	// HTTPURL is the base URL of the ESP3D web server, including the port.
	HTTPURL     string
	CommandPath string
	// WSURL is the telemetry socket, e.g. ws://10.0.0.5:8282.
	WSURL          string
	Subprotocol    string
	SendTimeout    time.Duration
	ConnectTimeout time.Duration
	// Settle is how long to collect and discard boot noise after connecting.
	Settle time.Duration
}

func DefaultConfig(httpURL, wsURL string) Config {
	return Config{
		HTTPURL:        httpURL,
		CommandPath:    "/command",
		WSURL:          wsURL,
		Subprotocol:    "arduino",
		SendTimeout:    15 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Settle:         500 * time.Millisecond,
	}
}

type Transport struct {
	cfg    Config
	logger *zap.Logger
	client *http.Client
	dialer *websocket.Dialer
	stream *comm.Stream
	isOpen atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
	// stopping is set before an intentional close so the receiver does not report it.
	stopping atomic.Bool
}

func New(cfg Config, logger *zap.Logger) *Transport {
	var subprotocols []string
	if cfg.Subprotocol != "" {
		subprotocols = []string{cfg.Subprotocol}
	}
	return &Transport{
		cfg:    cfg,
		logger: logger.With(zap.String("transport", "wifi"), zap.String("ws", cfg.WSURL)),
		client: &http.Client{Timeout: cfg.SendTimeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
			Subprotocols:     subprotocols,
		},
		stream: comm.NewStream(),
	}
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
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()
	conn, resp, err := t.dialer.DialContext(dialCtx, t.cfg.WSURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %s)", t.cfg.WSURL, err, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", t.cfg.WSURL, err)
	}
	if t.cfg.Subprotocol != "" && conn.Subprotocol() != t.cfg.Subprotocol {
		t.logger.Warn("Server did not accept subprotocol", zap.String("want", t.cfg.Subprotocol),
			zap.String("got", conn.Subprotocol()))
	}
	t.stream.Reset()
	t.conn = conn
	t.done = make(chan struct{})
	t.stopping.Store(false)
	t.isOpen.Store(true)
	go t.receive(conn, t.done)

	select {
	case <-ctx.Done():
		_ = t.teardown()
		return ctx.Err()
	case <-time.After(t.cfg.Settle):
	}
	if n := t.stream.Clear(); n > 0 {
		t.logger.Debug("Discarded boot noise", zap.Int("lines", n))
	}
	if !t.isOpen.Load() {
		return fmt.Errorf("telemetry closed while settling: %w", t.stream.Err())
	}
	t.logger.Info("WiFi transport open", zap.String("http", t.cfg.HTTPURL))
	return nil
}

// teardown closes the socket and waits for the receiver. Callers hold mu.
func (t *Transport) teardown() error {
	if t.conn == nil {
		return nil
	}
	t.stopping.Store(true)
	t.isOpen.Store(false)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := t.conn.Close()
	select {
	case <-t.done:
	case <-time.After(2 * time.Second):
		t.logger.Warn("Receiver did not exit in time")
	}
	t.conn = nil
	return err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.teardown()
	t.stream.Shut(comm.ErrClosed)
	t.logger.Info("WiFi transport closed")
	return err
}

func (t *Transport) fail(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.teardown(); err != nil {
		t.logger.Debug("Close after failure", zap.Error(err))
	}
	t.stream.Shut(cause)
}

func (t *Transport) commandURL(text string) string {
	q := url.Values{"commandText": []string{text}}
	return strings.TrimRight(t.cfg.HTTPURL, "/") + t.cfg.CommandPath + "?" + q.Encode()
}

// SendRaw submits one command over HTTP. The request itself frames the line,
// so no terminator is added. A request cut short by ctx leaves the transport open.
func (t *Transport) SendRaw(ctx context.Context, text string) error {
	if !t.isOpen.Load() {
		return comm.ErrClosed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.commandURL(text), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			err = fmt.Errorf("unexpected status %s", resp.Status)
		}
	}
	if err != nil && ctx.Err() != nil {
		t.logger.Warn("Command request cancelled", zap.String("gcode", text), zap.Error(err))
		return fmt.Errorf("send %q: %w", text, err)
	}
	if err != nil {
		t.logger.Error("Command request failed", zap.String("gcode", text), zap.Error(err))
		t.fail(err)
		return fmt.Errorf("send %q: %w", text, err)
	}
	return nil
}

func (t *Transport) receive(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if t.stopping.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn("Telemetry socket closed by device", zap.Error(err))
			} else {
				t.logger.Error("Telemetry read failed", zap.Error(err))
			}
			if t.isOpen.CompareAndSwap(true, false) {
				t.stream.Shut(err)
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		lines, err := comm.Lines(payload)
		if err != nil {
			t.logger.Warn("Dropping undecodable message", zap.Int("bytes", len(payload)), zap.Error(err))
			continue
		}
		for _, l := range lines {
			t.logger.Debug("Received message", zap.String("msg", l))
			t.stream.Push(l)
		}
	}
}
