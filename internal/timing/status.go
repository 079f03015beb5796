package timing

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Status is the point-in-time race view consumed by the HTTP surface, the
// telemetry forwarder, and the indicator panel.
type Status struct {
	RaceID             string     `json:"race_id,omitempty"`
	Running            bool       `json:"running"`
	TotalLaps          int        `json:"total_laps"`
	TotalDNF           int        `json:"total_dnf"`
	BestLap            *float64   `json:"best_lap"`
	CurrentState       State      `json:"current_state"`
	CurrentLapTime     *float64   `json:"current_lap_time"`
	ResetRemaining     *float64   `json:"reset_remaining"`
	LastLapStatus      *LapStatus `json:"last_lap_status"`
	LidarHealthy       bool       `json:"lidar_healthy"`
	CurrentDistance    *int       `json:"current_distance"`
	LidarStatusMessage string     `json:"lidar_status_message"`
	ConnectionFailures int        `json:"connection_failures"`
	ReadingFailures    int        `json:"reading_failures"`
}

// Statistics summarises the race record.
type Statistics struct {
	TotalAttempts  int      `json:"total_attempts"`
	CompletedLaps  int      `json:"completed_laps"`
	DNFCount       int      `json:"dnf_count"`
	CompletionRate float64  `json:"completion_rate"`
	BestLap        *float64 `json:"best_lap"`
	AverageLap     *float64 `json:"average_lap"`
	TotalRaceTime  float64  `json:"total_race_time"`
	Last5Laps      []float64 `json:"last_5_laps"`
}

// completedTimesLocked returns the completed lap times in chronological
// order. Caller must hold e.mu.
func (e *Engine) completedTimesLocked() []float64 {
	var times []float64
	for _, r := range e.results {
		if r.Status == LapCompleted && r.Time != nil {
			times = append(times, *r.Time)
		}
	}
	return times
}

func (e *Engine) completedCountLocked() int {
	return len(e.completedTimesLocked())
}

func (e *Engine) dnfCountLocked() int {
	count := 0
	for _, r := range e.results {
		if r.Status == LapDNF {
			count++
		}
	}
	return count
}

func (e *Engine) bestLapLocked() *float64 {
	times := e.completedTimesLocked()
	if len(times) == 0 {
		return nil
	}
	best := floats.Min(times)
	return &best
}

// LapResults returns a copy of the race's permanent record.
func (e *Engine) LapResults() []LapResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	results := make([]LapResult, len(e.results))
	copy(results, e.results)
	return results
}

// LapTimes returns the completed lap times in chronological order.
func (e *Engine) LapTimes() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completedTimesLocked()
}

// BestLap returns the fastest completed lap time in seconds, nil when no lap
// has completed.
func (e *Engine) BestLap() *float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bestLapLocked()
}

// Status reports the current race view. Progress states (timing, cooldown)
// are only reported while the sensor data is fresh, so a stalled sensor is
// never presented as a live lap.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()
	health := e.sensor.Health()
	fresh := health.LastReadingAge < e.sensor.MaxReadingAge().Seconds()

	status := Status{
		RaceID:             e.raceID,
		Running:            e.running,
		TotalLaps:          e.completedCountLocked(),
		TotalDNF:           e.dnfCountLocked(),
		BestLap:            e.bestLapLocked(),
		CurrentState:       StateIdle,
		LidarHealthy:       health.Healthy,
		CurrentDistance:    health.CurrentDistance,
		LidarStatusMessage: health.StatusMessage,
		ConnectionFailures: health.ConnectionFailures,
		ReadingFailures:    health.ReadingFailures,
	}

	if len(e.results) > 0 {
		last := e.results[len(e.results)-1].Status
		status.LastLapStatus = &last
	}

	switch {
	case !e.resetTimer.IsZero() && fresh:
		if status.LastLapStatus != nil && *status.LastLapStatus == LapDNF {
			status.CurrentState = StateWaitingAfterDNF
		} else {
			status.CurrentState = StateWaitingForNextRacer
		}
		remaining := (e.cfg.ResetDelay - now.Sub(e.resetTimer)).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		status.ResetRemaining = &remaining
	case !e.currentLapStart.IsZero() && fresh:
		status.CurrentState = StateTimingLap
		current := now.Sub(e.currentLapStart).Seconds()
		status.CurrentLapTime = &current
	case e.running:
		status.CurrentState = StateWaitingForFirstCrossing
	}

	return status
}

// Statistics computes the race summary from the permanent record.
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	completed := e.completedTimesLocked()
	stats := Statistics{
		TotalAttempts: len(e.results),
		CompletedLaps: len(completed),
		DNFCount:      e.dnfCountLocked(),
		Last5Laps:     lastN(completed, 5),
	}

	if len(e.results) > 0 {
		stats.CompletionRate = float64(len(completed)) / float64(len(e.results)) * 100
	}
	if len(completed) > 0 {
		best := floats.Min(completed)
		mean := stat.Mean(completed, nil)
		stats.BestLap = &best
		stats.AverageLap = &mean
		stats.TotalRaceTime = floats.Sum(completed)
	}

	return stats
}

// lastN returns the trailing n entries of times in chronological order.
func lastN(times []float64, n int) []float64 {
	if len(times) <= n {
		out := make([]float64, len(times))
		copy(out, times)
		return out
	}
	out := make([]float64, n)
	copy(out, times[len(times)-n:])
	return out
}
