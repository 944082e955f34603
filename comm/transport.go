package comm

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrClosed      = errors.New("transport closed")
	ErrBadEncoding = errors.New("payload is not valid UTF-8")
)

// Transport is a channel to the controller. Implementations own one receiver
// goroutine while open, which is the only producer for Stream.
type Transport interface {
	// Open connects and starts the receiver. It is a no-op when already open
	// and may be called again after a failed attempt.
	Open(ctx context.Context) error
	// Close stops the receiver and releases the channel. Safe to call repeatedly.
	Close() error
	// SendRaw delivers one G-code line. A failure closes the transport.
	SendRaw(ctx context.Context, text string) error
	IsOpen() bool
	Stream() *Stream
}

// Lines decodes a received payload into trimmed, non-empty lines.
func Lines(payload []byte) ([]string, error) {
	if !utf8.Valid(payload) {
		return nil, ErrBadEncoding
	}
	parts := strings.Split(string(payload), "\n")
	ret := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\r", ""))
		if p != "" {
			ret = append(ret, p)
		}
	}
	return ret, nil
}
