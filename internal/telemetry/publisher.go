// Package telemetry forwards lap events and race status to an MQTT broker.
// The publisher is optional: with no broker configured it is a no-op, so the
// timer runs standalone at tracks without network infrastructure.
package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/pumptrack.timer/internal/monitoring"
	"github.com/banshee-data/pumptrack.timer/internal/timeutil"
	"github.com/banshee-data/pumptrack.timer/internal/timing"
)

const (
	connectTimeout = 5 * time.Second
	stopTimeout    = 2 * time.Second
	loopInterval   = time.Second
)

// Options configures the broker connection and topics. An empty Broker
// disables the publisher entirely.
type Options struct {
	Broker   string // e.g. tcp://broker.local:1883
	ClientID string
	Username string
	Password string

	TopicLap    string
	TopicStatus string
	TopicStats  string
	TopicHealth string

	PublishInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = "pumptrack_timer"
	}
	if o.TopicLap == "" {
		o.TopicLap = "pumptrack/lap"
	}
	if o.TopicStatus == "" {
		o.TopicStatus = "pumptrack/status"
	}
	if o.TopicStats == "" {
		o.TopicStats = "pumptrack/stats"
	}
	if o.TopicHealth == "" {
		o.TopicHealth = "pumptrack/health"
	}
	if o.PublishInterval <= 0 {
		o.PublishInterval = 2 * time.Second
	}
	return o
}

// StatusSource is the engine surface the publisher reads from.
type StatusSource interface {
	Status() timing.Status
	Statistics() timing.Statistics
}

// Publisher connects to an MQTT broker and publishes lap events as they
// happen plus status, statistics, and health on a fixed cadence.
type Publisher struct {
	opts   Options
	source StatusSource
	clk    timeutil.Clock

	// newClient is swapped out by tests to avoid a real broker.
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu          sync.Mutex
	client      mqtt.Client
	running     bool
	lastPublish time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// New creates a Publisher. It does not connect; call Start.
func New(opts Options, source StatusSource, clk timeutil.Clock) *Publisher {
	if clk == nil {
		clk = timeutil.RealClock{}
	}
	return &Publisher{
		opts:      opts.withDefaults(),
		source:    source,
		clk:       clk,
		newClient: mqtt.NewClient,
	}
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool {
	return p.opts.Broker != ""
}

// Start connects to the broker and starts the periodic publish loop. It is a
// no-op when no broker is configured.
func (p *Publisher) Start() error {
	if !p.Enabled() {
		monitoring.Logf("telemetry disabled: no MQTT broker configured")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	copts := mqtt.NewClientOptions().
		AddBroker(p.opts.Broker).
		SetClientID(p.opts.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)
	if p.opts.Username != "" {
		copts.SetUsername(p.opts.Username)
		copts.SetPassword(p.opts.Password)
	}
	copts.SetOnConnectHandler(func(mqtt.Client) {
		monitoring.Logf("MQTT connected to %s", p.opts.Broker)
	})
	copts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("MQTT connection lost: %v", err)
	})

	client := p.newClient(copts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("MQTT connect to %s timed out after %v", p.opts.Broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connect to %s: %w", p.opts.Broker, err)
	}

	p.client = client
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.publishLoop(p.stopCh, p.doneCh)

	monitoring.Logf("telemetry started: broker=%s client_id=%s", p.opts.Broker, p.opts.ClientID)
	return nil
}

// Stop halts the publish loop and disconnects from the broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	client := p.client
	p.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(stopTimeout):
		monitoring.Logf("telemetry publish loop did not stop within %v", stopTimeout)
	}

	client.Disconnect(250)
	monitoring.Logf("telemetry stopped")
}

// IsConnected reports whether the broker connection is up.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil && p.client.IsConnected()
}

func (p *Publisher) publishLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		p.PublishStatus(false)
		p.clk.Sleep(loopInterval)
	}
}

type lapEvent struct {
	LapTime      *float64         `json:"lap_time"`
	Status       timing.LapStatus `json:"status"`
	LapNumber    *int             `json:"lap_number"`
	Timestamp    float64          `json:"timestamp"`
	TimestampISO string           `json:"timestamp_iso"`
}

// PublishLapEvent publishes a single lap classification at QoS 1. lapNumber
// may be nil when the event is a DNF.
func (p *Publisher) PublishLapEvent(lapTime *float64, status timing.LapStatus, lapNumber *int) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("cannot publish lap event: MQTT not connected")
	}

	now := p.clk.Now()
	event := lapEvent{
		LapTime:      lapTime,
		Status:       status,
		LapNumber:    lapNumber,
		Timestamp:    float64(now.UnixNano()) / 1e9,
		TimestampISO: now.Format("2006-01-02T15:04:05"),
	}
	if err := p.publishJSON(client, p.opts.TopicLap, 1, event); err != nil {
		return err
	}
	if lapTime != nil {
		monitoring.Logf("published lap event: %s - %.3fs", status, *lapTime)
	} else {
		monitoring.Logf("published lap event: %s", status)
	}
	return nil
}

type statusPayload struct {
	timing.Status
	Timestamp    float64 `json:"timestamp"`
	TimestampISO string  `json:"timestamp_iso"`
}

type statsPayload struct {
	timing.Statistics
	Timestamp float64 `json:"timestamp"`
}

type healthPayload struct {
	LidarHealthy       bool    `json:"lidar_healthy"`
	CurrentDistance    *int    `json:"current_distance"`
	LidarStatusMessage string  `json:"lidar_status_message"`
	ConnectionFailures int     `json:"connection_failures"`
	ReadingFailures    int     `json:"reading_failures"`
	Timestamp          float64 `json:"timestamp"`
}

// PublishStatus publishes status, statistics, and health. Unless force is
// set, it is rate-limited to the configured publish interval. It reports
// whether a publish happened.
func (p *Publisher) PublishStatus(force bool) bool {
	p.mu.Lock()
	client := p.client
	last := p.lastPublish
	p.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return false
	}

	now := p.clk.Now()
	if !force && !last.IsZero() && now.Sub(last) < p.opts.PublishInterval {
		return false
	}

	status := p.source.Status()
	stats := p.source.Statistics()
	ts := float64(now.UnixNano()) / 1e9

	ok := p.publishJSON(client, p.opts.TopicStatus, 0, statusPayload{
		Status:       status,
		Timestamp:    ts,
		TimestampISO: now.Format("2006-01-02T15:04:05"),
	}) == nil
	ok = p.publishJSON(client, p.opts.TopicStats, 0, statsPayload{
		Statistics: stats,
		Timestamp:  ts,
	}) == nil && ok
	ok = p.publishJSON(client, p.opts.TopicHealth, 0, healthPayload{
		LidarHealthy:       status.LidarHealthy,
		CurrentDistance:    status.CurrentDistance,
		LidarStatusMessage: status.LidarStatusMessage,
		ConnectionFailures: status.ConnectionFailures,
		ReadingFailures:    status.ReadingFailures,
		Timestamp:          ts,
	}) == nil && ok

	if ok {
		p.mu.Lock()
		p.lastPublish = now
		p.mu.Unlock()
	}
	return ok
}

func (p *Publisher) publishJSON(client mqtt.Client, topic string, qos byte, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	token := client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
