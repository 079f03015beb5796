// Package config loads the timer configuration from a JSON file. Fields are
// pointer-typed so a partial file is safe: the Get* accessors fall back to
// defaults for anything not set, and clamp out-of-range values with a logged
// warning.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pumptrack.timer/internal/monitoring"
)

// DefaultConfigPath is the conventional location of the timer config file.
const DefaultConfigPath = "timer_config.json"

// Config is the root configuration. The lidar and lap_timer sections are
// required; everything else is optional.
type Config struct {
	Lidar    *LidarConfig     `json:"lidar"`
	LapTimer *LapTimerConfig  `json:"lap_timer"`
	Web      *WebConfig       `json:"web_server,omitempty"`
	MQTT     *MQTTConfig      `json:"mqtt,omitempty"`
	Display  *DisplayConfig   `json:"led_display,omitempty"`
	Logging  *LoggingConfig   `json:"logging,omitempty"`
}

// LidarConfig configures the rangefinder port and quality gates.
type LidarConfig struct {
	Port          *string  `json:"port,omitempty"`
	BaudRate      *int     `json:"baudrate,omitempty"`
	Timeout       *float64 `json:"timeout,omitempty"`         // seconds
	MinStrength   *int     `json:"min_strength,omitempty"`
	MaxDistance   *int     `json:"max_distance,omitempty"`    // cm
	MaxReadingAge *float64 `json:"max_reading_age,omitempty"` // seconds
}

// LapTimerConfig configures the crossing detector and lap classification.
type LapTimerConfig struct {
	MinCrossingDistance *int     `json:"min_crossing_distance,omitempty"` // cm
	MaxCrossingDistance *int     `json:"max_crossing_distance,omitempty"` // cm
	MinLapTime          *float64 `json:"min_lap_time,omitempty"`          // seconds
	MaxLapTime          *float64 `json:"max_lap_time,omitempty"`          // seconds
	ResetDelay          *float64 `json:"reset_delay,omitempty"`           // seconds
	CrossingDebounce    *float64 `json:"crossing_debounce,omitempty"`     // seconds
}

// WebConfig configures the HTTP listener.
type WebConfig struct {
	Host *string `json:"host,omitempty"`
	Port *int    `json:"port,omitempty"`
}

// MQTTConfig configures the telemetry broker connection. Telemetry is
// disabled when the section is absent or Host is empty.
type MQTTConfig struct {
	Host            *string  `json:"host,omitempty"`
	Port            *int     `json:"port,omitempty"`
	ClientID        *string  `json:"client_id,omitempty"`
	Username        *string  `json:"username,omitempty"`
	Password        *string  `json:"password,omitempty"`
	Topics          *Topics  `json:"topics,omitempty"`
	PublishInterval *float64 `json:"publish_interval,omitempty"` // seconds
}

// Topics names the MQTT topics used by the telemetry forwarder.
type Topics struct {
	LapTime    *string `json:"lap_time,omitempty"`
	Status     *string `json:"status,omitempty"`
	Statistics *string `json:"statistics,omitempty"`
	Health     *string `json:"health,omitempty"`
}

// DisplayConfig configures the indicator panel.
type DisplayConfig struct {
	NumPixels  *int     `json:"num_pixels,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level *string `json:"level,omitempty"`
	File  *string `json:"file,omitempty"`
}

func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }

// Load reads and validates a Config from a JSON file. Fields omitted from
// the file fall back to the accessor defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the required sections are present and that set values
// are in range. Out-of-range tunables that the accessors clamp are not
// errors; this rejects only configurations that cannot be corrected.
func (c *Config) Validate() error {
	if c.Lidar == nil {
		return fmt.Errorf("missing required config section: lidar")
	}
	if c.LapTimer == nil {
		return fmt.Errorf("missing required config section: lap_timer")
	}

	if c.LapTimer.MinCrossingDistance != nil {
		if v := *c.LapTimer.MinCrossingDistance; v < 10 || v > 200 {
			return fmt.Errorf("min_crossing_distance must be 10-200 cm, got %d", v)
		}
	}
	if c.LapTimer.MinLapTime != nil && *c.LapTimer.MinLapTime <= 0 {
		return fmt.Errorf("min_lap_time must be positive, got %f", *c.LapTimer.MinLapTime)
	}
	if c.Lidar.BaudRate != nil && *c.Lidar.BaudRate <= 0 {
		return fmt.Errorf("baudrate must be positive, got %d", *c.Lidar.BaudRate)
	}
	if c.MQTT != nil && c.MQTT.Port != nil {
		if v := *c.MQTT.Port; v < 1 || v > 65535 {
			return fmt.Errorf("mqtt port must be 1-65535, got %d", v)
		}
	}
	return nil
}

// lidar returns the lidar section, never nil.
func (c *Config) lidar() *LidarConfig {
	if c.Lidar == nil {
		return &LidarConfig{}
	}
	return c.Lidar
}

func (c *Config) lapTimer() *LapTimerConfig {
	if c.LapTimer == nil {
		return &LapTimerConfig{}
	}
	return c.LapTimer
}

// GetLidarPort returns the serial device path or the default.
func (c *Config) GetLidarPort() string {
	if v := c.lidar().Port; v != nil {
		return *v
	}
	return "/dev/ttyS0"
}

// GetLidarBaudRate returns the serial baud rate or the default.
func (c *Config) GetLidarBaudRate() int {
	if v := c.lidar().BaudRate; v != nil {
		return *v
	}
	return 115200
}

// GetLidarTimeout returns the serial read timeout or the default.
func (c *Config) GetLidarTimeout() time.Duration {
	if v := c.lidar().Timeout; v != nil && *v > 0 {
		return secondsToDuration(*v)
	}
	return time.Second
}

// GetMinStrength returns the signal strength floor or the default.
func (c *Config) GetMinStrength() int {
	if v := c.lidar().MinStrength; v != nil {
		return *v
	}
	return 100
}

// GetMaxDistance returns the usable distance ceiling in cm or the default.
func (c *Config) GetMaxDistance() int {
	if v := c.lidar().MaxDistance; v != nil {
		return *v
	}
	return 1200
}

// GetMaxReadingAge returns the freshness cutoff or the default.
func (c *Config) GetMaxReadingAge() time.Duration {
	if v := c.lidar().MaxReadingAge; v != nil && *v > 0 {
		return secondsToDuration(*v)
	}
	return 500 * time.Millisecond
}

// GetMinCrossingDistance returns the crossing band floor in cm.
func (c *Config) GetMinCrossingDistance() int {
	if v := c.lapTimer().MinCrossingDistance; v != nil {
		return *v
	}
	return 10
}

// GetMaxCrossingDistance returns the crossing band ceiling in cm.
func (c *Config) GetMaxCrossingDistance() int {
	if v := c.lapTimer().MaxCrossingDistance; v != nil {
		return *v
	}
	return 400
}

// GetMinLapTime returns the shortest believable lap.
func (c *Config) GetMinLapTime() time.Duration {
	if v := c.lapTimer().MinLapTime; v != nil && *v > 0 {
		return secondsToDuration(*v)
	}
	return time.Second
}

// GetMaxLapTime returns the DNF cutoff, clamped to 10-300 seconds.
func (c *Config) GetMaxLapTime() time.Duration {
	if v := c.lapTimer().MaxLapTime; v != nil {
		if *v < 10 || *v > 300 {
			monitoring.Logf("max_lap_time %.1fs out of range (10-300s), using 60s", *v)
			return 60 * time.Second
		}
		return secondsToDuration(*v)
	}
	return 60 * time.Second
}

// GetResetDelay returns the cooldown between racers.
func (c *Config) GetResetDelay() time.Duration {
	if v := c.lapTimer().ResetDelay; v != nil && *v > 0 {
		return secondsToDuration(*v)
	}
	return 5 * time.Second
}

// GetCrossingDebounce returns the crossing debounce window, clamped to
// 0.05-1.0 seconds.
func (c *Config) GetCrossingDebounce() time.Duration {
	if v := c.lapTimer().CrossingDebounce; v != nil {
		if *v < 0.05 || *v > 1.0 {
			monitoring.Logf("crossing_debounce %.3fs out of range (0.05-1.0s), using 0.2s", *v)
			return 200 * time.Millisecond
		}
		return secondsToDuration(*v)
	}
	return 200 * time.Millisecond
}

// GetWebAddr returns the HTTP listen address in host:port form.
func (c *Config) GetWebAddr() string {
	host := "0.0.0.0"
	port := 5000
	if c.Web != nil {
		if c.Web.Host != nil {
			host = *c.Web.Host
		}
		if c.Web.Port != nil {
			port = *c.Web.Port
		}
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// MQTTEnabled reports whether a telemetry broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT != nil && c.MQTT.Host != nil && *c.MQTT.Host != ""
}

// GetMQTTBroker returns the broker URL in tcp://host:port form. Empty when
// telemetry is not configured.
func (c *Config) GetMQTTBroker() string {
	if !c.MQTTEnabled() {
		return ""
	}
	port := 1883
	if c.MQTT.Port != nil {
		port = *c.MQTT.Port
	}
	return fmt.Sprintf("tcp://%s:%d", *c.MQTT.Host, port)
}

// GetMQTTClientID returns the MQTT client identifier or the default.
func (c *Config) GetMQTTClientID() string {
	if c.MQTT != nil && c.MQTT.ClientID != nil {
		return *c.MQTT.ClientID
	}
	return "pumptrack_timer"
}

// GetMQTTUsername returns the broker username, empty when unset.
func (c *Config) GetMQTTUsername() string {
	if c.MQTT != nil && c.MQTT.Username != nil {
		return *c.MQTT.Username
	}
	return ""
}

// GetMQTTPassword returns the broker password, empty when unset.
func (c *Config) GetMQTTPassword() string {
	if c.MQTT != nil && c.MQTT.Password != nil {
		return *c.MQTT.Password
	}
	return ""
}

// GetPublishInterval returns the status/health republish cadence.
func (c *Config) GetPublishInterval() time.Duration {
	if c.MQTT != nil && c.MQTT.PublishInterval != nil && *c.MQTT.PublishInterval > 0 {
		return secondsToDuration(*c.MQTT.PublishInterval)
	}
	return 2 * time.Second
}

func (c *Config) topics() *Topics {
	if c.MQTT == nil || c.MQTT.Topics == nil {
		return &Topics{}
	}
	return c.MQTT.Topics
}

// GetTopicLap returns the lap-event topic or the default.
func (c *Config) GetTopicLap() string {
	if v := c.topics().LapTime; v != nil {
		return *v
	}
	return "pumptrack/lap"
}

// GetTopicStatus returns the status topic or the default.
func (c *Config) GetTopicStatus() string {
	if v := c.topics().Status; v != nil {
		return *v
	}
	return "pumptrack/status"
}

// GetTopicStatistics returns the statistics topic or the default.
func (c *Config) GetTopicStatistics() string {
	if v := c.topics().Statistics; v != nil {
		return *v
	}
	return "pumptrack/stats"
}

// GetTopicHealth returns the health topic or the default.
func (c *Config) GetTopicHealth() string {
	if v := c.topics().Health; v != nil {
		return *v
	}
	return "pumptrack/health"
}

// GetNumPixels returns the indicator pixel count or the default.
func (c *Config) GetNumPixels() int {
	if c.Display != nil && c.Display.NumPixels != nil {
		return *c.Display.NumPixels
	}
	return 25
}

// GetLogLevel returns the configured log level name or the default.
func (c *Config) GetLogLevel() string {
	if c.Logging != nil && c.Logging.Level != nil {
		return *c.Logging.Level
	}
	return "INFO"
}

// GetLogFile returns the log file path, empty when logging to stderr only.
func (c *Config) GetLogFile() string {
	if c.Logging != nil && c.Logging.File != nil {
		return *c.Logging.File
	}
	return ""
}

// Default returns a Config with the required sections present and every
// tunable left to its accessor default. Useful for dev mode and tests.
func Default() *Config {
	return &Config{
		Lidar:    &LidarConfig{},
		LapTimer: &LapTimerConfig{},
	}
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
