package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pumptrack.timer/internal/timing"
)

type recordingDisplay struct {
	frames []Frame
	clears int
}

func (d *recordingDisplay) ShowState(f Frame) { d.frames = append(d.frames, f) }
func (d *recordingDisplay) Clear()            { d.clears++ }

func TestStateFrame(t *testing.T) {
	tests := []struct {
		state timing.State
		want  Frame
	}{
		{timing.StateWaitingForFirstCrossing, Frame{Pattern: PatternReadyRing, Color: ColorYellow, Pulse: true}},
		{timing.StateTimingLap, Frame{Pattern: PatternCircle, Color: ColorBlue, Pulse: true}},
		{timing.StateWaitingForNextRacer, Frame{Pattern: PatternCheckmark, Color: ColorGreen}},
		{timing.StateWaitingAfterDNF, Frame{Pattern: PatternXMark, Color: ColorRed}},
		{timing.StateIdle, Frame{Pattern: PatternClear, Color: ColorOff}},
	}
	for _, tc := range tests {
		t.Run(string(tc.state), func(t *testing.T) {
			assert.Equal(t, tc.want, StateFrame(tc.state))
		})
	}
}

func TestResultFrame(t *testing.T) {
	fast := 15.0
	good := 22.0
	slow := 30.0

	assert.Equal(t, Frame{Pattern: PatternWave, Color: ColorGreen}, ResultFrame(&fast, timing.LapCompleted))
	assert.Equal(t, Frame{Pattern: PatternCheckmark, Color: ColorGreen}, ResultFrame(&good, timing.LapCompleted))
	assert.Equal(t, Frame{Pattern: PatternCheckmark, Color: ColorYellow}, ResultFrame(&slow, timing.LapCompleted))
	assert.Equal(t, Frame{Pattern: PatternFlash, Color: ColorRed}, ResultFrame(nil, timing.LapDNF))
}

func TestPanelSuppressesRedundantRedraws(t *testing.T) {
	display := &recordingDisplay{}
	panel := NewPanel(display)

	panel.Update(timing.StateWaitingForFirstCrossing)
	panel.Update(timing.StateWaitingForFirstCrossing)
	panel.Update(timing.StateWaitingForFirstCrossing)
	require.Len(t, display.frames, 1, "unchanged state draws once")

	panel.Update(timing.StateTimingLap)
	require.Len(t, display.frames, 2)
	assert.Equal(t, PatternCircle, display.frames[1].Pattern)
}

func TestPanelResultForcesRedraw(t *testing.T) {
	display := &recordingDisplay{}
	panel := NewPanel(display)

	panel.Update(timing.StateTimingLap)
	lap := 12.0
	panel.ShowResult(&lap, timing.LapCompleted)

	// same state again must redraw after the result interlude
	panel.Update(timing.StateTimingLap)
	require.Len(t, display.frames, 3)
	assert.Equal(t, PatternWave, display.frames[1].Pattern)
	assert.Equal(t, PatternCircle, display.frames[2].Pattern)
}

func TestPanelClose(t *testing.T) {
	display := &recordingDisplay{}
	panel := NewPanel(display)
	panel.Close()
	assert.Equal(t, 1, display.clears)
}
