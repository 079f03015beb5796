// Package tfluna implements the acquisition driver for the Benewake TF-Luna
// single-point rangefinder: binary frame decoding with checksum validation,
// a continuous reading loop with reconnect and backoff, and a computed health
// assessment consumed by the lap-timing engine.
package tfluna

import (
	"encoding/binary"
	"io"
)

const (
	// FrameSize is the length of one TF-Luna measurement frame: two sync
	// bytes, six little-endian payload bytes, one checksum byte.
	FrameSize = 9

	frameHeader = 0x59

	// DefaultScanBudget is the maximum number of byte reads one decode
	// attempt may consume before giving up. At 115200 baud a frame arrives
	// well inside this budget, so an exhausted budget means the line is
	// quiet or desynchronised.
	DefaultScanBudget = 20
)

// Frame is one decoded and checksum-validated TF-Luna measurement.
type Frame struct {
	// Distance in centimetres.
	Distance uint16
	// Strength is the return signal strength (0-65535, higher is better).
	Strength uint16
	// TemperatureC is the sensor die temperature in Celsius, computed as
	// raw/100. A diagnostic variant of this formula (raw/8 - 256) exists in
	// cmd/lunadump; the streaming decoder treats raw/100 as authoritative.
	TemperatureC float64
}

// Usable reports whether the frame passes the signal-quality gate: strength
// at or above minStrength and distance strictly below maxDistance (cm). This
// gate is distinct from the crossing-distance band applied by the timing
// engine.
func (f Frame) Usable(minStrength, maxDistance int) bool {
	return int(f.Strength) >= minStrength && int(f.Distance) < maxDistance
}

// checksum computes the TF-Luna frame checksum: the low byte of the sum of
// the first eight frame bytes.
func checksum(frame []byte) byte {
	var sum int
	for _, b := range frame[:8] {
		sum += int(b)
	}
	return byte(sum & 0xFF)
}

// decodeFrame decodes a full 9-byte frame whose checksum has already been
// validated.
func decodeFrame(frame []byte) Frame {
	return Frame{
		Distance:     binary.LittleEndian.Uint16(frame[2:4]),
		Strength:     binary.LittleEndian.Uint16(frame[4:6]),
		TemperatureC: float64(binary.LittleEndian.Uint16(frame[6:8])) / 100.0,
	}
}

// ScanFrame hunts for the next valid frame in the byte stream r, reading one
// byte at a time. It consumes at most maxReads byte reads before returning
// (Frame{}, false, nil), so a quiet or garbled line cannot block the
// acquisition loop. Reads that return no data (a port read timeout) count
// against the budget. Frames with an invalid checksum are discarded and the
// scan resynchronises on the next header byte.
//
// A non-nil error is a transport failure; the caller should treat the port as
// broken.
func ScanFrame(r io.Reader, maxReads int) (Frame, bool, error) {
	if maxReads <= 0 {
		maxReads = DefaultScanBudget
	}

	reads := 0
	readByte := func() (byte, bool, error) {
		var b [1]byte
		for reads < maxReads {
			reads++
			n, err := r.Read(b[:])
			if err != nil {
				return 0, false, err
			}
			if n == 1 {
				return b[0], true, nil
			}
		}
		return 0, false, nil
	}

	var frame [FrameSize]byte
	for reads < maxReads {
		b, ok, err := readByte()
		if err != nil || !ok {
			return Frame{}, false, err
		}
		if b != frameHeader {
			continue
		}

		b, ok, err = readByte()
		if err != nil || !ok {
			return Frame{}, false, err
		}
		if b != frameHeader {
			continue
		}

		frame[0], frame[1] = frameHeader, frameHeader
		complete := true
		for i := 2; i < FrameSize; i++ {
			b, ok, err = readByte()
			if err != nil {
				return Frame{}, false, err
			}
			if !ok {
				complete = false
				break
			}
			frame[i] = b
		}
		if !complete {
			return Frame{}, false, nil
		}

		if checksum(frame[:]) != frame[8] {
			// corrupted frame: drop it and keep hunting
			continue
		}

		return decodeFrame(frame[:]), true, nil
	}

	return Frame{}, false, nil
}

// EncodeFrame builds a valid 9-byte TF-Luna frame. It is used by the dev-mode
// frame simulator and by tests.
func EncodeFrame(distance, strength uint16, temperatureC float64) []byte {
	frame := make([]byte, FrameSize)
	frame[0], frame[1] = frameHeader, frameHeader
	binary.LittleEndian.PutUint16(frame[2:4], distance)
	binary.LittleEndian.PutUint16(frame[4:6], strength)
	binary.LittleEndian.PutUint16(frame[6:8], uint16(temperatureC*100))
	frame[8] = checksum(frame)
	return frame
}
