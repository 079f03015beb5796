package timing

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pumptrack.timer/internal/timeutil"
)

func seedResults(t *testing.T, engine *Engine, results []LapResult) {
	t.Helper()
	engine.mu.Lock()
	engine.results = results
	engine.mu.Unlock()
}

func lapTime(secs float64) LapResult {
	return LapResult{Time: &secs, Status: LapCompleted}
}

func TestStatisticsEmptyRecord(t *testing.T) {
	engine, err := New(healthyStub(), scenarioConfig(), nil, timeutil.NewMockClock(baseTime))
	require.NoError(t, err)
	defer engine.Close()

	want := Statistics{Last5Laps: []float64{}}
	if diff := cmp.Diff(want, engine.Statistics()); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}
}

func TestStatisticsMixedRecord(t *testing.T) {
	engine, err := New(healthyStub(), scenarioConfig(), nil, timeutil.NewMockClock(baseTime))
	require.NoError(t, err)
	defer engine.Close()

	seedResults(t, engine, []LapResult{
		lapTime(12.5),
		{Status: LapDNF},
		lapTime(11.0),
		lapTime(13.5),
	})

	best := 11.0
	avg := (12.5 + 11.0 + 13.5) / 3
	want := Statistics{
		TotalAttempts:  4,
		CompletedLaps:  3,
		DNFCount:       1,
		CompletionRate: 75,
		BestLap:        &best,
		AverageLap:     &avg,
		TotalRaceTime:  37.0,
		Last5Laps:      []float64{12.5, 11.0, 13.5},
	}
	opts := cmpopts.EquateApprox(0, 1e-9)
	if diff := cmp.Diff(want, engine.Statistics(), opts); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}
}

func TestStatisticsLastFiveWindow(t *testing.T) {
	engine, err := New(healthyStub(), scenarioConfig(), nil, timeutil.NewMockClock(baseTime))
	require.NoError(t, err)
	defer engine.Close()

	seedResults(t, engine, []LapResult{
		lapTime(10), lapTime(11), lapTime(12), {Status: LapDNF},
		lapTime(13), lapTime(14), lapTime(15),
	})

	stats := engine.Statistics()
	assert.Equal(t, []float64{11, 12, 13, 14, 15}, stats.Last5Laps,
		"window holds the most recent completed laps, DNFs excluded")
}

func TestLapAccessors(t *testing.T) {
	engine, err := New(healthyStub(), scenarioConfig(), nil, timeutil.NewMockClock(baseTime))
	require.NoError(t, err)
	defer engine.Close()

	assert.Empty(t, engine.LapTimes())
	assert.Nil(t, engine.BestLap())

	seedResults(t, engine, []LapResult{lapTime(14.2), {Status: LapDNF}, lapTime(12.8)})

	assert.Equal(t, []float64{14.2, 12.8}, engine.LapTimes())
	require.NotNil(t, engine.BestLap())
	assert.Equal(t, 12.8, *engine.BestLap())

	// the record accessor returns a copy
	results := engine.LapResults()
	require.Len(t, results, 3)
	results[0].Status = LapDNF
	assert.Equal(t, LapCompleted, engine.LapResults()[0].Status)
}

func TestStatusIdleBeforeRace(t *testing.T) {
	sensor := healthyStub()
	engine, err := New(sensor, scenarioConfig(), nil, timeutil.NewMockClock(baseTime))
	require.NoError(t, err)
	defer engine.Close()

	status := engine.Status()
	assert.Equal(t, StateIdle, status.CurrentState)
	assert.False(t, status.Running)
	assert.Empty(t, status.RaceID)
	assert.True(t, status.LidarHealthy)
	assert.Equal(t, "Sensor healthy", status.LidarStatusMessage)
}

func TestStatusReportsHealthPassthrough(t *testing.T) {
	sensor := healthyStub()
	sensor.healthy = false
	sensor.statusMsg = "Low signal strength: 42"
	sensor.connFails = 2
	sensor.readFails = 7
	engine, err := New(sensor, scenarioConfig(), nil, timeutil.NewMockClock(baseTime))
	require.NoError(t, err)
	defer engine.Close()

	status := engine.Status()
	assert.False(t, status.LidarHealthy)
	assert.Equal(t, "Low signal strength: 42", status.LidarStatusMessage)
	assert.Equal(t, 2, status.ConnectionFailures)
	assert.Equal(t, 7, status.ReadingFailures)
}
