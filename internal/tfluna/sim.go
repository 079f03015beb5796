package tfluna

import (
	"bytes"
	"sync"
	"time"

	"github.com/banshee-data/pumptrack.timer/internal/serialport"
)

// SimulatedPort is a serialport.Porter that synthesises TF-Luna frames, used
// by dev mode to exercise the full pipeline without hardware. Frames are
// produced at frame period 1/frequency from the distance function, which
// receives the elapsed time since the port was opened.
type SimulatedPort struct {
	distanceAt func(elapsed time.Duration) uint16
	period     time.Duration

	mu      sync.Mutex
	started time.Time
	next    time.Time
	buf     bytes.Buffer
	closed  bool
}

// NewSimulatedPort creates a simulator emitting frames at the given frequency
// (Hz). A nil distanceAt yields a fixed 600 cm background reading, outside the
// typical crossing band, as if the line were clear.
func NewSimulatedPort(frequency int, distanceAt func(elapsed time.Duration) uint16) *SimulatedPort {
	if frequency <= 0 {
		frequency = 100
	}
	if distanceAt == nil {
		distanceAt = func(time.Duration) uint16 { return 600 }
	}
	now := time.Now()
	return &SimulatedPort{
		distanceAt: distanceAt,
		period:     time.Second / time.Duration(frequency),
		started:    now,
		next:       now,
	}
}

// Read fills p with synthesised frame bytes at the configured rate. Between
// frame deadlines it behaves like a timed-out port read, returning (0, nil).
func (s *SimulatedPort) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, serialport.ErrPortClosed
	}

	now := time.Now()
	for !now.Before(s.next) {
		frame := EncodeFrame(s.distanceAt(now.Sub(s.started)), 1200, 25.0)
		s.buf.Write(frame)
		s.next = s.next.Add(s.period)
	}

	if s.buf.Len() == 0 {
		return 0, nil
	}
	return s.buf.Read(p)
}

// Write discards command bytes; the simulated sensor accepts anything.
func (s *SimulatedPort) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, serialport.ErrPortClosed
	}
	return len(p), nil
}

// Close marks the port closed.
func (s *SimulatedPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ResetInputBuffer drops any synthesised-but-unread bytes.
func (s *SimulatedPort) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	return nil
}
