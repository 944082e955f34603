package comm

import (
	"sync"
	"time"
)

// Line is one decoded response line.
type Line struct {
	Text       string
	ReceivedAt time.Time
}

// Stream is a first-in-first-out queue of response lines. One receiver pushes,
// one waiter at a time pops. Closure of the underlying channel is delivered
// through the stream with Shut so waiters see it without polling a separate flag.
type Stream struct {
	mu     sync.Mutex
	values []Line
	// notify is closed and replaced whenever a line arrives or the stream is shut.
	notify chan struct{}
	err    error
}

func NewStream() *Stream {
	return &Stream{
		values: make([]Line, 0, 64),
		notify: make(chan struct{}),
	}
}

func (s *Stream) wake() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// Push appends a line stamped with the current time.
func (s *Stream) Push(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, Line{Text: text, ReceivedAt: time.Now()})
	s.wake()
}

// Pop waits up to timeout for the oldest line. It returns false when the
// timeout expires, or immediately once the stream is shut and drained.
func (s *Stream) Pop(timeout time.Duration) (Line, bool) {
	var timer *time.Timer
	for {
		s.mu.Lock()
		if len(s.values) > 0 {
			l := s.values[0]
			s.values[0] = Line{}
			s.values = s.values[1:]
			s.mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			return l, true
		}
		if s.err != nil {
			s.mu.Unlock()
			return Line{}, false
		}
		ch := s.notify
		s.mu.Unlock()
		if timer == nil {
			if timeout <= 0 {
				return Line{}, false
			}
			timer = time.NewTimer(timeout)
		}
		select {
		case <-ch:
		case <-timer.C:
			return Line{}, false
		}
	}
}

// Clear drops every queued line and returns how many were dropped.
func (s *Stream) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.values)
	s.values = s.values[:0:0]
	return n
}

func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Shut records that the producer is gone. Queued lines remain readable.
func (s *Stream) Shut(err error) {
	if err == nil {
		err = ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = err
	s.wake()
}

// Err returns the reason the stream was shut, or nil while a producer is attached.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Reset empties the stream and clears the shut state for a new connection.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = s.values[:0:0]
	s.err = nil
}
