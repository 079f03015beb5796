// Package timing implements the lap-timing state machine for the pumptrack
// finish line: crossing detection with time and distance-consistency
// debouncing, lap/DNF classification, reset-delay windows, and race
// statistics. The engine consumes the rangefinder only through the read-only
// SensorReader interface and serializes every mutating entry point on a
// single engine-wide lock.
package timing

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pumptrack.timer/internal/monitoring"
	"github.com/banshee-data/pumptrack.timer/internal/tfluna"
	"github.com/banshee-data/pumptrack.timer/internal/timeutil"
)

var (
	// ErrEngineExists is returned by New when a live engine already exists.
	// Downstream collaborators assume exactly one logical race in flight.
	ErrEngineExists = errors.New("a timing engine is already live")

	// ErrSensorNotConnected is returned by StartRace when the rangefinder
	// has no open serial channel.
	ErrSensorNotConnected = errors.New("lidar not connected")

	// ErrSensorUnhealthy is returned by StartRace when the rangefinder
	// health check fails.
	ErrSensorUnhealthy = errors.New("lidar unhealthy")

	// ErrRaceInProgress is returned by StartRace when a race is already
	// running.
	ErrRaceInProgress = errors.New("race already running")
)

// live enforces the single-engine contract at construction time.
var (
	liveMu sync.Mutex
	live   *Engine
)

// SensorReader is the read-only view of the acquisition driver consumed by
// the engine. The engine never reaches into driver internals.
type SensorReader interface {
	Reading() tfluna.Reading
	Health() tfluna.Health
	IsConnected() bool
	IsRunning() bool
	StartContinuousReading() error
	MaxReadingAge() time.Duration
}

// LapStatus classifies a concluded lap.
type LapStatus string

const (
	LapCompleted LapStatus = "Completed"
	LapDNF       LapStatus = "DNF"
)

// LapResult is one entry in the race's permanent record. Time is the lap
// duration in seconds, nil for a DNF.
type LapResult struct {
	Time   *float64  `json:"time"`
	Status LapStatus `json:"status"`
}

// Event is emitted by Update when a lap concludes. LapTime is nil for a DNF.
type Event struct {
	LapTime *float64
	Status  LapStatus
}

// DNFHandler is invoked with the elapsed lap time when a lap is classified
// DNF. It runs synchronously inside the engine lock and must not re-enter
// the engine.
type DNFHandler func(elapsed time.Duration)

// State is the derived presentation state reported by Status.
type State string

const (
	StateIdle                    State = "Idle"
	StateWaitingForFirstCrossing State = "Waiting for Racer"
	StateTimingLap               State = "Timing Lap"
	StateWaitingForNextRacer     State = "Waiting for Next Racer"
	StateWaitingAfterDNF         State = "Waiting After DNF"
)

// Config holds the timing thresholds, immutable after construction.
type Config struct {
	// MinCrossingDistance and MaxCrossingDistance bound the finish-line
	// detection band in centimetres.
	MinCrossingDistance int
	MaxCrossingDistance int

	// MinLapTime is the shortest duration accepted as a completed lap.
	MinLapTime time.Duration

	// MaxLapTime is the longest a lap may run before being classified DNF.
	MaxLapTime time.Duration

	// ResetDelay is the cooldown after a lap concludes during which the
	// line is ignored unless a new crossing interrupts it.
	ResetDelay time.Duration

	// CrossingDebounce suppresses repeat detections within this window.
	CrossingDebounce time.Duration

	// DistanceTolerance (cm) bounds how far a candidate crossing may sit
	// from the previous accepted distance.
	DistanceTolerance int
}

// withDefaults fills unset fields and clamps out-of-range values, logging a
// warning for each clamp rather than aborting startup.
func (c Config) withDefaults() Config {
	if c.MinCrossingDistance == 0 {
		c.MinCrossingDistance = 10
	}
	if c.MaxCrossingDistance == 0 {
		c.MaxCrossingDistance = 400
	}
	if c.MinLapTime == 0 {
		c.MinLapTime = time.Second
	}
	if c.ResetDelay == 0 {
		c.ResetDelay = 5 * time.Second
	}
	if c.DistanceTolerance == 0 {
		c.DistanceTolerance = 10
	}
	if c.CrossingDebounce < 50*time.Millisecond || c.CrossingDebounce > time.Second {
		if c.CrossingDebounce != 0 {
			monitoring.Logf("invalid crossing_debounce %v, using 200ms", c.CrossingDebounce)
		}
		c.CrossingDebounce = 200 * time.Millisecond
	}
	if c.MaxLapTime < 10*time.Second || c.MaxLapTime > 300*time.Second {
		if c.MaxLapTime != 0 {
			monitoring.Logf("invalid max_lap_time %v, using 60s", c.MaxLapTime)
		}
		c.MaxLapTime = 60 * time.Second
	}
	return c
}

// Engine is the lap-timing state machine. All mutating entry points
// (StartRace, StopRace, Update, ManualReset, Close) and the read accessors
// serialize on one engine-wide mutex so concurrent callers observe a
// consistent view.
type Engine struct {
	sensor SensorReader
	clk    timeutil.Clock
	cfg    Config
	dnf    DNFHandler

	mu                sync.Mutex
	running           bool
	raceID            string
	results           []LapResult
	currentLapStart   time.Time
	lastCrossing      time.Time
	resetTimer        time.Time
	lastDetection     time.Time
	lastValidDistance *int
}

// New constructs the timing engine. It fails with ErrEngineExists if another
// engine is live; call Close on the old engine first. The handler may be nil.
func New(sensor SensorReader, cfg Config, handler DNFHandler, clk timeutil.Clock) (*Engine, error) {
	liveMu.Lock()
	defer liveMu.Unlock()
	if live != nil {
		return nil, ErrEngineExists
	}

	if clk == nil {
		clk = timeutil.RealClock{}
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		sensor: sensor,
		clk:    clk,
		cfg:    cfg,
		dnf:    handler,
	}
	live = e

	monitoring.Logf("lap timer initialized: crossing_range=%d-%dcm, min_lap_time=%v, max_lap_time=%v, reset_delay=%v, crossing_debounce=%v",
		cfg.MinCrossingDistance, cfg.MaxCrossingDistance, cfg.MinLapTime, cfg.MaxLapTime, cfg.ResetDelay, cfg.CrossingDebounce)
	return e, nil
}

// Close stops any running race and releases the single-engine slot.
func (e *Engine) Close() {
	e.StopRace()
	liveMu.Lock()
	if live == e {
		live = nil
	}
	liveMu.Unlock()
	monitoring.Logf("lap timer closed")
}

// StartRace clears the previous race record and begins a new race. The
// rangefinder must be connected and healthy; continuous reading is started if
// it is not already running.
func (e *Engine) StartRace() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.sensor.IsConnected() {
		monitoring.Logf("cannot start race: lidar not connected")
		return ErrSensorNotConnected
	}
	health := e.sensor.Health()
	if !health.Healthy {
		monitoring.Logf("cannot start race: lidar unhealthy (%s)", health.StatusMessage)
		return fmt.Errorf("%w: %s", ErrSensorUnhealthy, health.StatusMessage)
	}
	if !e.sensor.IsRunning() {
		if err := e.sensor.StartContinuousReading(); err != nil {
			monitoring.Logf("failed to start lidar continuous reading: %v", err)
			return fmt.Errorf("failed to start continuous reading: %w", err)
		}
	}
	if e.running {
		return ErrRaceInProgress
	}

	e.running = true
	e.raceID = uuid.NewString()
	e.results = nil
	e.currentLapStart = time.Time{}
	e.lastCrossing = time.Time{}
	e.resetTimer = time.Time{}
	e.lastDetection = time.Time{}
	e.lastValidDistance = nil

	monitoring.Logf("race %s started", e.raceID)
	return nil
}

// StopRace ends the race, finalizing any in-flight lap: completed if it ran
// at least MinLapTime, DNF otherwise. No-op when no race is running.
func (e *Engine) StopRace() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false

	if !e.currentLapStart.IsZero() && e.resetTimer.IsZero() {
		elapsed := e.clk.Since(e.currentLapStart)
		if elapsed >= e.cfg.MinLapTime {
			secs := elapsed.Seconds()
			e.results = append(e.results, LapResult{Time: &secs, Status: LapCompleted})
			monitoring.Logf("final lap recorded: %.3fs", secs)
		} else {
			e.results = append(e.results, LapResult{Status: LapDNF})
			monitoring.Logf("final lap aborted (too short): DNF")
			if e.dnf != nil {
				e.dnf(elapsed)
			}
		}
	}

	e.currentLapStart = time.Time{}
	e.lastCrossing = time.Time{}
	e.resetTimer = time.Time{}
	e.lastDetection = time.Time{}
	e.lastValidDistance = nil

	monitoring.Logf("race stopped")
}

// detectCrossing checks the latest sample for an accepted finish-line
// crossing. A candidate inside the crossing band is accepted only when the
// time since the last accepted detection reaches CrossingDebounce and the
// distance is consistent with the last accepted distance. Caller must hold
// e.mu.
func (e *Engine) detectCrossing() (time.Time, bool) {
	health := e.sensor.Health()
	if !health.Healthy {
		monitoring.Debugf("no crossing: lidar unhealthy (%s)", health.StatusMessage)
		return time.Time{}, false
	}

	reading := e.sensor.Reading()
	if reading.Distance == nil {
		monitoring.Debugf("no crossing: invalid distance reading")
		return time.Time{}, false
	}
	distance := *reading.Distance
	if distance < e.cfg.MinCrossingDistance || distance > e.cfg.MaxCrossingDistance {
		monitoring.Debugf("no crossing: distance %dcm outside range", distance)
		return time.Time{}, false
	}

	timestamp := reading.CapturedAt
	if timestamp.Sub(e.lastDetection) < e.cfg.CrossingDebounce {
		monitoring.Debugf("crossing debounced (time): %dcm", distance)
		return time.Time{}, false
	}
	if e.lastValidDistance != nil && abs(distance-*e.lastValidDistance) > e.cfg.DistanceTolerance {
		monitoring.Debugf("crossing debounced (inconsistent distance): %dcm vs %dcm", distance, *e.lastValidDistance)
		return time.Time{}, false
	}

	e.lastDetection = timestamp
	e.lastValidDistance = &distance
	monitoring.Debugf("crossing detected: %dcm", distance)
	return timestamp, true
}

// Update advances the state machine by one tick. It is called at high
// frequency by the driving loop and never blocks or sleeps. A non-nil Event
// is returned only when a lap concludes on this tick.
func (e *Engine) Update() *Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}

	health := e.sensor.Health()
	if !health.Healthy {
		monitoring.Debugf("lidar unhealthy: %s", health.StatusMessage)
		return nil
	}

	now := e.clk.Now()

	// cooldown between racers
	if !e.resetTimer.IsZero() {
		if now.Sub(e.resetTimer) >= e.cfg.ResetDelay {
			monitoring.Logf("reset delay complete, ready for new racer")
			e.currentLapStart = time.Time{}
			e.lastCrossing = time.Time{}
			e.resetTimer = time.Time{}
			e.lastDetection = time.Time{}
			e.lastValidDistance = nil
			return nil
		}
		// a new racer may interrupt the cooldown early
		if timestamp, ok := e.detectCrossing(); ok {
			e.currentLapStart = timestamp
			e.lastCrossing = timestamp
			e.resetTimer = time.Time{}
			monitoring.Logf("crossing detected during reset, starting new lap")
		}
		return nil
	}

	// timeout-based DNF
	if !e.currentLapStart.IsZero() && now.Sub(e.currentLapStart) >= e.cfg.MaxLapTime {
		elapsed := now.Sub(e.currentLapStart)
		e.results = append(e.results, LapResult{Status: LapDNF})
		e.resetTimer = now
		e.lastDetection = time.Time{}
		e.lastValidDistance = nil
		monitoring.Logf("lap exceeded max_lap_time (%v): DNF, waiting %v for next racer", e.cfg.MaxLapTime, e.cfg.ResetDelay)
		if e.dnf != nil {
			e.dnf(elapsed)
		}
		return &Event{Status: LapDNF}
	}

	timestamp, ok := e.detectCrossing()
	if !ok {
		return nil
	}

	if e.lastCrossing.IsZero() {
		// first crossing of the race: start the lap
		e.currentLapStart = timestamp
		e.lastCrossing = timestamp
		monitoring.Logf("first crossing detected, lap timing started")
		return nil
	}

	if timestamp.Sub(e.lastCrossing) >= e.cfg.MinLapTime {
		lap := timestamp.Sub(e.currentLapStart).Seconds()
		e.results = append(e.results, LapResult{Time: &lap, Status: LapCompleted})
		e.lastCrossing = timestamp
		e.resetTimer = timestamp
		monitoring.Logf("lap %d completed: %.3fs, waiting %v for next racer", e.completedCountLocked(), lap, e.cfg.ResetDelay)
		return &Event{LapTime: &lap, Status: LapCompleted}
	}

	// crossing too soon after the lap boundary: a racer lingering at the
	// line; ignore it outright
	return nil
}

// ManualReset aborts an in-progress lap without recording a result and
// starts a reset window. It reports whether anything was reset.
func (e *Engine) ManualReset() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.currentLapStart.IsZero() {
		return false
	}
	monitoring.Logf("manual reset triggered")
	e.currentLapStart = time.Time{}
	e.lastCrossing = time.Time{}
	e.resetTimer = e.clk.Now()
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
