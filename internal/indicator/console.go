package indicator

import (
	"github.com/banshee-data/pumptrack.timer/internal/monitoring"
)

// ConsoleDisplay logs frames instead of driving hardware. It is the default
// when no LED matrix is attached, matching the simulation mode of the
// trackside panel.
type ConsoleDisplay struct{}

func (ConsoleDisplay) ShowState(f Frame) {
	if f.Pulse {
		monitoring.Logf("display: %s in %s (pulsing)", f.Pattern, f.Color)
		return
	}
	monitoring.Logf("display: %s in %s", f.Pattern, f.Color)
}

func (ConsoleDisplay) Clear() {
	monitoring.Logf("display: cleared")
}
