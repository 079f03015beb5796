package tfluna

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pumptrack.timer/internal/serialport"
)

func TestScanFrameDecodesValidFrame(t *testing.T) {
	t.Parallel()

	// distance 250cm, strength 1200, temp 25.5C
	raw := EncodeFrame(250, 1200, 25.5)
	frame, ok, err := ScanFrame(bytes.NewReader(raw), DefaultScanBudget)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, uint16(250), frame.Distance)
	assert.Equal(t, uint16(1200), frame.Strength)
	assert.InDelta(t, 25.5, frame.TemperatureC, 0.01)
}

func TestScanFrameResyncsPastGarbage(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x59, 0x12, 0xFF}) // noise, including a lone header byte
	stream.Write(EncodeFrame(55, 800, 20.0))

	frame, ok, err := ScanFrame(&stream, DefaultScanBudget)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint16(55), frame.Distance)
}

func TestScanFrameRejectsBadChecksum(t *testing.T) {
	t.Parallel()

	raw := EncodeFrame(100, 500, 22.0)
	raw[8] ^= 0xFF

	port := serialport.NewTestablePort()
	port.AddReadData(raw)

	_, ok, err := ScanFrame(port, DefaultScanBudget)
	require.NoError(t, err)
	assert.False(t, ok, "corrupted frame must be discarded")
}

func TestScanFrameSingleBitCorruption(t *testing.T) {
	t.Parallel()

	// Flipping any single bit in the first 8 bytes perturbs the modular sum,
	// so the checksum no longer matches and the frame is dropped.
	for byteIdx := 0; byteIdx < 8; byteIdx++ {
		for bit := 0; bit < 8; bit++ {
			raw := EncodeFrame(321, 999, 30.0)
			raw[byteIdx] ^= 1 << bit

			port := serialport.NewTestablePort()
			port.AddReadData(raw)

			_, ok, err := ScanFrame(port, DefaultScanBudget)
			require.NoError(t, err)
			assert.False(t, ok, "corruption at byte %d bit %d slipped through", byteIdx, bit)
		}
	}
}

func TestScanFrameBudgetBoundsQuietLine(t *testing.T) {
	t.Parallel()

	port := serialport.NewTestablePort() // empty: every read times out

	_, ok, err := ScanFrame(port, 20)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 20, port.ReadCalls, "scan must give up after the read budget")
}

func TestScanFramePartialFrameWithinBudget(t *testing.T) {
	t.Parallel()

	port := serialport.NewTestablePort()
	port.AddReadData(EncodeFrame(80, 700, 21.0)[:5]) // truncated mid-payload

	_, ok, err := ScanFrame(port, 20)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanFramePropagatesTransportError(t *testing.T) {
	t.Parallel()

	port := serialport.NewTestablePort()
	port.ReadError = assert.AnError

	_, ok, err := ScanFrame(port, 20)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestFrameUsable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame Frame
		want  bool
	}{
		{"good signal in range", Frame{Distance: 300, Strength: 400}, true},
		{"weak signal", Frame{Distance: 300, Strength: 99}, false},
		{"at max distance", Frame{Distance: 1200, Strength: 400}, false},
		{"beyond max distance", Frame{Distance: 5000, Strength: 400}, false},
		{"boundary strength", Frame{Distance: 300, Strength: 100}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.frame.Usable(100, 1200))
		})
	}
}
