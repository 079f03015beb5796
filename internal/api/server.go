// Package api exposes the timer's HTTP status and control surface.
package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/pumptrack.timer/internal/httputil"
	"github.com/banshee-data/pumptrack.timer/internal/timing"
	"github.com/banshee-data/pumptrack.timer/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Timer is the engine surface the HTTP handlers consume.
type Timer interface {
	StartRace() error
	StopRace()
	ManualReset() bool
	Status() timing.Status
	Statistics() timing.Statistics
	LapTimes() []float64
	LapResults() []timing.LapResult
}

type Server struct {
	timer Timer
}

func NewServer(timer Timer) *Server {
	return &Server{timer: timer}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// HeadersMiddleware adds CORS headers to every response and disables caching
// on the /api/ endpoints so browsers always poll fresh timer state.
func HeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			w.Header().Set("Pragma", "no-cache")
			w.Header().Set("Expires", "0")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/start", s.startRace)
	mux.HandleFunc("/api/stop", s.stopRace)
	mux.HandleFunc("/api/reset", s.manualReset)
	mux.HandleFunc("/api/statistics", s.showStatistics)
	mux.HandleFunc("/health", s.healthCheck)
	mux.HandleFunc("/charts/laps", s.lapChart)
	return mux
}

// Handler returns the fully wrapped handler chain.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(HeadersMiddleware(s.ServeMux()))
}

type statusResponse struct {
	timing.Status
	Statistics timing.Statistics `json:"statistics"`
	Timestamp  float64           `json:"timestamp"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, statusResponse{
		Status:     s.timer.Status(),
		Statistics: s.timer.Statistics(),
		Timestamp:  nowUnix(),
	})
}

type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) startRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.timer.StartRace(); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, actionResponse{
			Success: false,
			Message: "Failed to start race: " + err.Error(),
		})
		return
	}
	log.Printf("race started via web interface")
	httputil.WriteJSONOK(w, actionResponse{Success: true, Message: "Race started successfully"})
}

func (s *Server) stopRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.timer.StopRace()
	log.Printf("race stopped via web interface")
	httputil.WriteJSONOK(w, actionResponse{Success: true, Message: "Race stopped successfully"})
}

func (s *Server) manualReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.timer.ManualReset() {
		httputil.WriteJSON(w, http.StatusBadRequest, actionResponse{
			Success: false,
			Message: "No active lap to reset",
		})
		return
	}
	log.Printf("lap manually reset via web interface")
	httputil.WriteJSONOK(w, actionResponse{Success: true, Message: "Lap manually reset"})
}

type statisticsResponse struct {
	Statistics timing.Statistics  `json:"statistics"`
	LapTimes   []float64          `json:"lap_times"`
	LapResults []timing.LapResult `json:"lap_results"`
	Status     timing.Status      `json:"status"`
	Timestamp  float64            `json:"timestamp"`
}

func (s *Server) showStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, statisticsResponse{
		Statistics: s.timer.Statistics(),
		LapTimes:   s.timer.LapTimes(),
		LapResults: s.timer.LapResults(),
		Status:     s.timer.Status(),
		Timestamp:  nowUnix(),
	})
}

type healthResponse struct {
	Status    string          `json:"status"`
	Timestamp float64         `json:"timestamp"`
	Services  map[string]bool `json:"services"`
	Version   string          `json:"version"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	status := s.timer.Status()
	health := healthResponse{
		Status:    "healthy",
		Timestamp: nowUnix(),
		Services: map[string]bool{
			"lap_timer":     true,
			"web_server":    true,
			"lidar_healthy": status.LidarHealthy,
			"race_running":  status.Running,
		},
		Version: version.Version,
	}

	for _, ok := range health.Services {
		if !ok {
			health.Status = "degraded"
			httputil.WriteJSON(w, http.StatusPartialContent, health)
			return
		}
	}
	httputil.WriteJSONOK(w, health)
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
