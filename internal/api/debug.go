package api

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/pumptrack.timer/internal/httputil"
	"github.com/banshee-data/pumptrack.timer/internal/tfluna"
)

// SensorStatus is the read-only sensor surface exposed on the debug pages.
type SensorStatus interface {
	Health() tfluna.Health
	Reading() tfluna.Reading
}

// AttachDebugRoutes mounts the /debug/ pages (pprof, varz, plus the sensor
// inspection endpoints below) on mux.
func AttachDebugRoutes(mux *http.ServeMux, sensor SensorStatus) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("sensor-health", "current rangefinder health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, sensor.Health())
	})

	debug.HandleSilentFunc("sensor-reading", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, sensor.Reading())
	})
}
