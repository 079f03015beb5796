package tfluna

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/pumptrack.timer/internal/monitoring"
	"github.com/banshee-data/pumptrack.timer/internal/serialport"
	"github.com/banshee-data/pumptrack.timer/internal/timeutil"
)

var (
	// ErrNotConnected is returned when continuous reading is started without
	// an open serial port.
	ErrNotConnected = errors.New("lidar not connected")

	// ErrConnectFailed is returned by Connect after exhausting all attempts.
	ErrConnectFailed = errors.New("lidar connection failed after retries")
)

const (
	maxConnectAttempts    = 3
	maxConnectionFailures = 10
	maxReadingFailures    = 50

	connectRetryPause = time.Second
	settleDelay       = 500 * time.Millisecond
	loopInterval      = time.Millisecond
	maxBackoff        = 5 * time.Second
	stopTimeout       = 2 * time.Second
)

// lifecycleState tracks the acquisition loop lifecycle. Both the controller
// and the loop goroutine consult it under the sensor mutex instead of ad hoc
// boolean flags.
type lifecycleState int

const (
	stateIdle lifecycleState = iota
	stateRunning
	stateStopping
	stateStopped
)

// Reading is a snapshot of the most recent validated sample. Field pointers
// are nil until the first frame decodes; CapturedAt is the zero time until
// then.
type Reading struct {
	Distance     *int     // cm
	Strength     *int     // 0-65535
	TemperatureC *float64 // Celsius
	CapturedAt   time.Time
}

// Health is a point-in-time assessment of whether the sensor data is
// trustworthy enough to drive timing decisions. It is computed fresh on every
// call, never stored.
type Health struct {
	Connected          bool     `json:"connected"`
	Running            bool     `json:"running"`
	LastReadingAge     float64  `json:"last_reading_age"` // seconds
	CurrentDistance    *int     `json:"current_distance"`
	SignalStrength     *int     `json:"signal_strength"`
	Temperature        *float64 `json:"temperature"`
	ConnectionFailures int      `json:"connection_failures"`
	ReadingFailures    int      `json:"reading_failures"`
	Healthy            bool     `json:"healthy"`
	StatusMessage      string   `json:"status_message"`
}

// Config holds the acquisition parameters for one sensor.
type Config struct {
	// Port is the serial device path, e.g. /dev/ttyS0.
	Port string

	// Options are the serial connection parameters (default 115200 8N1).
	Options serialport.Options

	// ReadTimeout bounds each byte read on the port.
	ReadTimeout time.Duration

	// MinStrength is the signal-quality floor; weaker returns are dropped.
	MinStrength int

	// MaxDistance (cm) is the quality ceiling; readings at or beyond it are
	// dropped as no-reads.
	MaxDistance int

	// MaxReadingAge is how old the cached sample may be before the sensor is
	// reported stale.
	MaxReadingAge time.Duration

	// ScanBudget caps byte reads per decode attempt; zero uses
	// DefaultScanBudget.
	ScanBudget int
}

// withDefaults fills unset config fields with the values used by the
// production deployment.
func (c Config) withDefaults() Config {
	if c.Port == "" {
		c.Port = "/dev/ttyS0"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
	if c.MinStrength == 0 {
		c.MinStrength = 100
	}
	if c.MaxDistance == 0 {
		c.MaxDistance = 1200
	}
	if c.MaxReadingAge == 0 {
		c.MaxReadingAge = 500 * time.Millisecond
	}
	if c.ScanBudget == 0 {
		c.ScanBudget = DefaultScanBudget
	}
	return c
}

// Sensor owns the serial channel to the rangefinder. A single background
// goroutine decodes frames into a cached latest sample; any number of readers
// snapshot that sample under a short-held lock. Sensor methods never block on
// I/O except Connect and the bounded join in StopContinuousReading.
type Sensor struct {
	cfg     Config
	factory serialport.Factory
	clk     timeutil.Clock

	mu                 sync.Mutex
	port               serialport.Porter
	state              lifecycleState
	distance           *int
	strength           *int
	temperature        *float64
	lastReading        time.Time
	connectionFailures int
	readingFailures    int
	stopCh             chan struct{}
	doneCh             chan struct{}
}

// NewSensor creates a Sensor that opens ports through factory. It does not
// touch the serial device; call Connect first.
func NewSensor(cfg Config, factory serialport.Factory, clk timeutil.Clock) *Sensor {
	if clk == nil {
		clk = timeutil.RealClock{}
	}
	return &Sensor{
		cfg:     cfg.withDefaults(),
		factory: factory,
		clk:     clk,
	}
}

// Connect opens the serial channel, making up to three attempts with a short
// pause between. On success the input buffer, cached sample, and failure
// counters are reset. It returns an error wrapping ErrConnectFailed after
// exhausting all attempts.
func (s *Sensor) Connect() error {
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		port, err := s.factory.Open(s.cfg.Port, s.cfg.Options)
		if err == nil {
			if tp, ok := port.(serialport.TimeoutPorter); ok {
				if terr := tp.SetReadTimeout(s.cfg.ReadTimeout); terr != nil {
					monitoring.Logf("failed to set read timeout: %v", terr)
				}
			}
			s.clk.Sleep(settleDelay)
			if rerr := port.ResetInputBuffer(); rerr != nil {
				monitoring.Logf("failed to reset input buffer: %v", rerr)
			}

			s.mu.Lock()
			s.port = port
			s.distance = nil
			s.strength = nil
			s.temperature = nil
			s.lastReading = time.Time{}
			s.connectionFailures = 0
			s.readingFailures = 0
			s.mu.Unlock()

			monitoring.Logf("lidar connected on %s", s.cfg.Port)
			return nil
		}

		lastErr = err
		monitoring.Logf("lidar connection attempt %d failed: %v", attempt, err)
		s.clk.Sleep(connectRetryPause)
	}
	return fmt.Errorf("%w: %v", ErrConnectFailed, lastErr)
}

// IsConnected reports whether the serial channel is open.
func (s *Sensor) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// IsRunning reports whether the acquisition loop is active.
func (s *Sensor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// StartContinuousReading spawns the background acquisition loop. It fails
// with ErrNotConnected if the port is not open and is a no-op if the loop is
// already running.
func (s *Sensor) StartContinuousReading() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrNotConnected
	}
	if s.state == stateRunning || s.state == stateStopping {
		return nil
	}

	s.state = stateRunning
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)

	monitoring.Logf("lidar continuous reading started")
	return nil
}

// StopContinuousReading signals the acquisition loop to exit and waits up to
// a bounded timeout for it to finish. Safe to call when not running.
func (s *Sensor) StopContinuousReading() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.state = stateStopping
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(stopTimeout):
		monitoring.Logf("timed out waiting for acquisition loop to stop")
	}
	monitoring.Logf("lidar continuous reading stopped")
}

// run is the continuous acquisition loop. It reconnects with backoff while
// disconnected, stores each decoded sample, and exits either cooperatively
// via stopCh or fatally after too many consecutive connection failures.
func (s *Sensor) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer func() {
		s.mu.Lock()
		s.state = stateStopped
		s.mu.Unlock()
		close(doneCh)
	}()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if !s.IsConnected() {
			monitoring.Logf("lidar disconnected, reconnecting")
			if err := s.Connect(); err != nil {
				s.mu.Lock()
				s.connectionFailures++
				failures := s.connectionFailures
				s.mu.Unlock()

				if failures >= maxConnectionFailures {
					monitoring.Logf("too many consecutive connection failures (%d), stopping acquisition", failures)
					return
				}
				s.clk.Sleep(backoff(failures))
				continue
			}
			// Connect resets both failure counters on success.
		}

		frame, ok, err := s.readOnce()
		switch {
		case err != nil:
			// transport failure: drop the port so the next pass reconnects
			monitoring.Logf("serial error: %v", err)
			s.closePort()
			s.recordReadFailure()
		case ok:
			s.storeSample(frame)
		default:
			s.recordReadFailure()
		}

		s.clk.Sleep(loopInterval)
	}
}

// backoff returns the reconnect pause after n consecutive failures.
func backoff(n int) time.Duration {
	d := time.Duration(n) * 500 * time.Millisecond
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// readOnce performs a single bounded decode attempt against the open port.
// Frames failing the signal-quality gate are reported as no-reads.
func (s *Sensor) readOnce() (Frame, bool, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return Frame{}, false, nil
	}

	// drop backlog so the scan sees live bytes, not a stale queue
	if err := port.ResetInputBuffer(); err != nil {
		return Frame{}, false, err
	}

	frame, ok, err := ScanFrame(port, s.cfg.ScanBudget)
	if err != nil || !ok {
		return Frame{}, false, err
	}

	if !frame.Usable(s.cfg.MinStrength, s.cfg.MaxDistance) {
		monitoring.Debugf("filtered reading: distance=%dcm strength=%d", frame.Distance, frame.Strength)
		return Frame{}, false, nil
	}

	return frame, true, nil
}

// storeSample atomically replaces the cached sample and resets both failure
// counters.
func (s *Sensor) storeSample(frame Frame) {
	distance := int(frame.Distance)
	strength := int(frame.Strength)
	temperature := frame.TemperatureC

	s.mu.Lock()
	defer s.mu.Unlock()
	s.distance = &distance
	s.strength = &strength
	s.temperature = &temperature
	s.lastReading = s.clk.Now()
	s.connectionFailures = 0
	s.readingFailures = 0
}

// recordReadFailure bumps the rolling reading-failure counter. Excessive
// failures are logged and the counter reset; decode failures alone are never
// fatal.
func (s *Sensor) recordReadFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readingFailures++
	if s.readingFailures >= maxReadingFailures {
		monitoring.Logf("excessive reading failures (%d), continuing to retry", s.readingFailures)
		s.readingFailures = 0
	}
}

// closePort closes and forgets the serial port, leaving the loop to
// reconnect.
func (s *Sensor) closePort() {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()
	if port != nil {
		if err := port.Close(); err != nil {
			monitoring.Logf("error closing serial port: %v", err)
		}
	}
}

// Reading returns the latest cached sample. It never blocks on I/O.
func (s *Sensor) Reading() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Reading{
		Distance:     s.distance,
		Strength:     s.strength,
		TemperatureC: s.temperature,
		CapturedAt:   s.lastReading,
	}
}

// Health computes the sensor health as of now. The status message follows a
// fixed precedence when unhealthy: disconnected, loop stopped, stale, low
// signal, extreme temperature.
func (s *Sensor) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	connected := s.port != nil
	running := s.state == stateRunning
	age := s.clk.Since(s.lastReading)

	healthy := connected &&
		running &&
		age < s.cfg.MaxReadingAge &&
		(s.strength == nil || *s.strength >= s.cfg.MinStrength) &&
		(s.temperature == nil || (*s.temperature >= 0 && *s.temperature <= 70))

	message := "Sensor healthy"
	if !healthy {
		switch {
		case !connected:
			message = "Sensor disconnected"
		case !running:
			message = "Reading loop stopped"
		case age >= s.cfg.MaxReadingAge:
			message = fmt.Sprintf("Stale readings (age: %.2fs)", age.Seconds())
		case s.strength != nil && *s.strength < s.cfg.MinStrength:
			message = fmt.Sprintf("Low signal strength: %d", *s.strength)
		case s.temperature != nil && (*s.temperature < 0 || *s.temperature > 70):
			message = fmt.Sprintf("Extreme temperature: %.1fC", *s.temperature)
		}
	}

	return Health{
		Connected:          connected,
		Running:            running,
		LastReadingAge:     age.Seconds(),
		CurrentDistance:    s.distance,
		SignalStrength:     s.strength,
		Temperature:        s.temperature,
		ConnectionFailures: s.connectionFailures,
		ReadingFailures:    s.readingFailures,
		Healthy:            healthy,
		StatusMessage:      message,
	}
}

// MaxReadingAge exposes the configured freshness threshold so the timing
// engine can gate presentation state on data freshness.
func (s *Sensor) MaxReadingAge() time.Duration {
	return s.cfg.MaxReadingAge
}

// Cleanup stops the acquisition loop and releases the serial port.
func (s *Sensor) Cleanup() {
	s.StopContinuousReading()
	s.closePort()
	monitoring.Logf("lidar cleanup complete")
}
