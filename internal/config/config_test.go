package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timer_config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"lidar": {
			"port": "/dev/ttyAMA0",
			"baudrate": 115200,
			"timeout": 0.5,
			"min_strength": 150,
			"max_distance": 800,
			"max_reading_age": 0.25
		},
		"lap_timer": {
			"min_crossing_distance": 20,
			"max_crossing_distance": 300,
			"min_lap_time": 2.0,
			"max_lap_time": 120.0,
			"reset_delay": 3.0,
			"crossing_debounce": 0.3
		},
		"web_server": {"host": "127.0.0.1", "port": 8080},
		"mqtt": {
			"host": "broker.local",
			"port": 1884,
			"client_id": "trackside",
			"username": "timer",
			"password": "secret",
			"publish_interval": 1.0,
			"topics": {"lap_time": "track/lap"}
		},
		"logging": {"level": "DEBUG", "file": "/var/log/timer.log"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyAMA0", cfg.GetLidarPort())
	assert.Equal(t, 115200, cfg.GetLidarBaudRate())
	assert.Equal(t, 500*time.Millisecond, cfg.GetLidarTimeout())
	assert.Equal(t, 150, cfg.GetMinStrength())
	assert.Equal(t, 800, cfg.GetMaxDistance())
	assert.Equal(t, 250*time.Millisecond, cfg.GetMaxReadingAge())

	assert.Equal(t, 20, cfg.GetMinCrossingDistance())
	assert.Equal(t, 300, cfg.GetMaxCrossingDistance())
	assert.Equal(t, 2*time.Second, cfg.GetMinLapTime())
	assert.Equal(t, 120*time.Second, cfg.GetMaxLapTime())
	assert.Equal(t, 3*time.Second, cfg.GetResetDelay())
	assert.Equal(t, 300*time.Millisecond, cfg.GetCrossingDebounce())

	assert.Equal(t, "127.0.0.1:8080", cfg.GetWebAddr())

	assert.True(t, cfg.MQTTEnabled())
	assert.Equal(t, "tcp://broker.local:1884", cfg.GetMQTTBroker())
	assert.Equal(t, "trackside", cfg.GetMQTTClientID())
	assert.Equal(t, "timer", cfg.GetMQTTUsername())
	assert.Equal(t, "secret", cfg.GetMQTTPassword())
	assert.Equal(t, time.Second, cfg.GetPublishInterval())
	assert.Equal(t, "track/lap", cfg.GetTopicLap())
	assert.Equal(t, "pumptrack/status", cfg.GetTopicStatus(), "unset topics keep defaults")

	assert.Equal(t, "DEBUG", cfg.GetLogLevel())
	assert.Equal(t, "/var/log/timer.log", cfg.GetLogFile())
}

func TestLoadPartialConfigUsesDefaults(t *testing.T) {
	path := writeConfig(t, `{"lidar": {}, "lap_timer": {}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS0", cfg.GetLidarPort())
	assert.Equal(t, 115200, cfg.GetLidarBaudRate())
	assert.Equal(t, time.Second, cfg.GetLidarTimeout())
	assert.Equal(t, 100, cfg.GetMinStrength())
	assert.Equal(t, 1200, cfg.GetMaxDistance())
	assert.Equal(t, 500*time.Millisecond, cfg.GetMaxReadingAge())
	assert.Equal(t, 10, cfg.GetMinCrossingDistance())
	assert.Equal(t, 400, cfg.GetMaxCrossingDistance())
	assert.Equal(t, time.Second, cfg.GetMinLapTime())
	assert.Equal(t, 60*time.Second, cfg.GetMaxLapTime())
	assert.Equal(t, 5*time.Second, cfg.GetResetDelay())
	assert.Equal(t, 200*time.Millisecond, cfg.GetCrossingDebounce())
	assert.Equal(t, "0.0.0.0:5000", cfg.GetWebAddr())
	assert.False(t, cfg.MQTTEnabled())
	assert.Empty(t, cfg.GetMQTTBroker())
	assert.Equal(t, "pumptrack_timer", cfg.GetMQTTClientID())
	assert.Equal(t, "INFO", cfg.GetLogLevel())
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})

	t.Run("wrong extension", func(t *testing.T) {
		_, err := Load("timer_config.yaml")
		assert.ErrorContains(t, err, ".json extension")
	})

	t.Run("malformed JSON", func(t *testing.T) {
		path := writeConfig(t, `{"lidar": `)
		_, err := Load(path)
		assert.ErrorContains(t, err, "parse config JSON")
	})

	t.Run("missing lidar section", func(t *testing.T) {
		path := writeConfig(t, `{"lap_timer": {}}`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "missing required config section: lidar")
	})

	t.Run("missing lap_timer section", func(t *testing.T) {
		path := writeConfig(t, `{"lidar": {}}`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "missing required config section: lap_timer")
	})

	t.Run("crossing distance out of range", func(t *testing.T) {
		path := writeConfig(t, `{"lidar": {}, "lap_timer": {"min_crossing_distance": 5}}`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "min_crossing_distance")
	})

	t.Run("bad mqtt port", func(t *testing.T) {
		path := writeConfig(t, `{"lidar": {}, "lap_timer": {}, "mqtt": {"host": "h", "port": 70000}}`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "mqtt port")
	})
}

func TestClampedAccessors(t *testing.T) {
	cfg := Default()
	cfg.LapTimer.MaxLapTime = ptrFloat64(500)      // above 300s
	cfg.LapTimer.CrossingDebounce = ptrFloat64(2)  // above 1.0s
	assert.Equal(t, 60*time.Second, cfg.GetMaxLapTime())
	assert.Equal(t, 200*time.Millisecond, cfg.GetCrossingDebounce())

	cfg.LapTimer.MaxLapTime = ptrFloat64(5)           // below 10s
	cfg.LapTimer.CrossingDebounce = ptrFloat64(0.01)  // below 0.05s
	assert.Equal(t, 60*time.Second, cfg.GetMaxLapTime())
	assert.Equal(t, 200*time.Millisecond, cfg.GetCrossingDebounce())
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Web = &WebConfig{Host: ptrString("localhost"), Port: ptrInt(9090)}
	assert.Equal(t, "localhost:9090", cfg.GetWebAddr())
}
