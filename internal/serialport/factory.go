package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// realPort wraps a go.bug.st/serial port. serial.Port already provides
// ResetInputBuffer and SetReadTimeout, so the wrapper only narrows the type.
type realPort struct {
	serial.Port
}

// RealFactory opens physical serial ports with go.bug.st/serial.
type RealFactory struct{}

// Open opens the serial port at path with the given options.
func (RealFactory) Open(path string, opts Options) (Porter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	return &realPort{Port: port}, nil
}
