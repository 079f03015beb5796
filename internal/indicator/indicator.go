// Package indicator drives the trackside status panel. The main loop pushes
// the current race state on every tick and lap results as they happen; a
// Display implementation decides how to render them.
package indicator

import (
	"github.com/banshee-data/pumptrack.timer/internal/timing"
)

// Color names the panel palette.
type Color string

const (
	ColorOff    Color = "off"
	ColorRed    Color = "red"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorYellow Color = "yellow"
)

// Pattern names the shapes the panel can render.
type Pattern string

const (
	PatternClear     Pattern = "clear"
	PatternReadyRing Pattern = "ready_ring"
	PatternCircle    Pattern = "circle"
	PatternCheckmark Pattern = "checkmark"
	PatternXMark     Pattern = "x_mark"
	PatternFlash     Pattern = "flash"
	PatternWave      Pattern = "wave"
)

// Frame is one rendering instruction for the panel.
type Frame struct {
	Pattern Pattern
	Color   Color
	Pulse   bool
}

// Display renders frames. Implementations must tolerate being called at the
// main loop rate; ShowState with an unchanged frame should be cheap.
type Display interface {
	ShowState(Frame)
	Clear()
}

// Lap time thresholds for result coloring, in seconds.
const (
	fastLapThreshold = 20.0
	goodLapThreshold = 25.0
)

// StateFrame maps a race state to its panel frame.
func StateFrame(state timing.State) Frame {
	switch state {
	case timing.StateWaitingForFirstCrossing:
		return Frame{Pattern: PatternReadyRing, Color: ColorYellow, Pulse: true}
	case timing.StateTimingLap:
		return Frame{Pattern: PatternCircle, Color: ColorBlue, Pulse: true}
	case timing.StateWaitingForNextRacer:
		return Frame{Pattern: PatternCheckmark, Color: ColorGreen}
	case timing.StateWaitingAfterDNF:
		return Frame{Pattern: PatternXMark, Color: ColorRed}
	default:
		return Frame{Pattern: PatternClear, Color: ColorOff}
	}
}

// ResultFrame maps a lap classification to its celebration frame. Completed
// laps are colored by how fast they were; DNFs flash red.
func ResultFrame(lapTime *float64, status timing.LapStatus) Frame {
	if status != timing.LapCompleted || lapTime == nil {
		return Frame{Pattern: PatternFlash, Color: ColorRed}
	}
	switch {
	case *lapTime < fastLapThreshold:
		return Frame{Pattern: PatternWave, Color: ColorGreen}
	case *lapTime < goodLapThreshold:
		return Frame{Pattern: PatternCheckmark, Color: ColorGreen}
	default:
		return Frame{Pattern: PatternCheckmark, Color: ColorYellow}
	}
}

// Panel ties a Display to the engine's state stream, suppressing redundant
// redraws between state changes.
type Panel struct {
	display Display
	last    Frame
	drawn   bool
}

// NewPanel creates a Panel over the given display.
func NewPanel(display Display) *Panel {
	return &Panel{display: display}
}

// Update renders the frame for the current race state if it changed since
// the last call.
func (p *Panel) Update(state timing.State) {
	frame := StateFrame(state)
	if p.drawn && frame == p.last {
		return
	}
	p.display.ShowState(frame)
	p.last = frame
	p.drawn = true
}

// ShowResult renders a lap classification immediately and forces the next
// Update to redraw the state frame.
func (p *Panel) ShowResult(lapTime *float64, status timing.LapStatus) {
	p.display.ShowState(ResultFrame(lapTime, status))
	p.drawn = false
}

// Close clears the panel.
func (p *Panel) Close() {
	p.display.Clear()
}
