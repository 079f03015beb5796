// Package serialport provides an abstraction over a serial port so that the
// rangefinder acquisition driver can be exercised without real hardware.
package serialport

import (
	"io"
	"time"
)

// Porter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without a physical sensor.
type Porter interface {
	io.ReadWriter
	io.Closer
	// ResetInputBuffer discards buffered, undelivered input. The TF-Luna
	// streams frames continuously, so stale buffered bytes are dropped on
	// (re)connect before the decoder starts scanning.
	ResetInputBuffer() error
}

// TimeoutPorter extends Porter with read timeout capabilities.
// This is an optional interface that serial ports may implement.
type TimeoutPorter interface {
	Porter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// Factory defines an interface for creating serial ports. The acquisition
// driver holds a Factory rather than a port so it can reopen the device
// after a disconnect.
type Factory interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts Options) (Porter, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(path string, opts Options) (Porter, error)

// Open calls f.
func (f FactoryFunc) Open(path string, opts Options) (Porter, error) {
	return f(path, opts)
}
