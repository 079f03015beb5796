package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/pumptrack.timer/internal/api"
	"github.com/banshee-data/pumptrack.timer/internal/config"
	"github.com/banshee-data/pumptrack.timer/internal/indicator"
	"github.com/banshee-data/pumptrack.timer/internal/monitoring"
	"github.com/banshee-data/pumptrack.timer/internal/serialport"
	"github.com/banshee-data/pumptrack.timer/internal/telemetry"
	"github.com/banshee-data/pumptrack.timer/internal/tfluna"
	"github.com/banshee-data/pumptrack.timer/internal/timing"
	"github.com/banshee-data/pumptrack.timer/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the timer config file")
	listen     = flag.String("listen", "", "Listen address (overrides the config file)")
	devMode    = flag.Bool("dev", false, "Run against a simulated rangefinder")
	debugMode  = flag.Bool("debug", false, "Enable per-sample debug logging")
)

// updateInterval paces the engine update loop at 100 Hz, comfortably faster
// than the sensor's frame rate so crossings are never missed.
const updateInterval = 10 * time.Millisecond

func loadConfig() *config.Config {
	if _, err := os.Stat(*configPath); err != nil {
		log.Printf("config file %s not found, using default settings", *configPath)
		return config.Default()
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// simulatedRider models a rider crossing the line roughly every 15 seconds:
// a short close-range blip against a clear-line background.
func simulatedRider() func(elapsed time.Duration) uint16 {
	const lapPeriod = 15 * time.Second
	return func(elapsed time.Duration) uint16 {
		if elapsed%lapPeriod < 300*time.Millisecond {
			return 120
		}
		return 600
	}
}

func main() {
	flag.Parse()

	log.Printf("pumptrack timer %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := loadConfig()

	if *debugMode || cfg.GetLogLevel() == "DEBUG" {
		monitoring.SetDebug(true)
	}
	if logFile := cfg.GetLogFile(); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("failed to open log file %s: %v", logFile, err)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	var factory serialport.Factory
	if *devMode {
		log.Printf("dev mode: using simulated rangefinder")
		factory = serialport.FactoryFunc(func(string, serialport.Options) (serialport.Porter, error) {
			return tfluna.NewSimulatedPort(100, simulatedRider()), nil
		})
	} else {
		factory = serialport.RealFactory{}
	}

	sensor := tfluna.NewSensor(tfluna.Config{
		Port:          cfg.GetLidarPort(),
		Options:       serialport.Options{BaudRate: cfg.GetLidarBaudRate()},
		ReadTimeout:   cfg.GetLidarTimeout(),
		MinStrength:   cfg.GetMinStrength(),
		MaxDistance:   cfg.GetMaxDistance(),
		MaxReadingAge: cfg.GetMaxReadingAge(),
	}, factory, nil)

	if err := sensor.Connect(); err != nil {
		log.Fatalf("failed to connect to rangefinder: %v", err)
	}
	defer sensor.Cleanup()

	if err := sensor.StartContinuousReading(); err != nil {
		log.Fatalf("failed to start rangefinder acquisition: %v", err)
	}

	// Runs inside the engine lock; it must not call back into the engine.
	dnfHandler := func(elapsed time.Duration) {
		log.Printf("lap DNF after %.1fs", elapsed.Seconds())
	}

	engine, err := timing.New(sensor, timing.Config{
		MinCrossingDistance: cfg.GetMinCrossingDistance(),
		MaxCrossingDistance: cfg.GetMaxCrossingDistance(),
		MinLapTime:          cfg.GetMinLapTime(),
		MaxLapTime:          cfg.GetMaxLapTime(),
		ResetDelay:          cfg.GetResetDelay(),
		CrossingDebounce:    cfg.GetCrossingDebounce(),
	}, dnfHandler, nil)
	if err != nil {
		log.Fatalf("failed to create lap timer: %v", err)
	}
	defer engine.Close()

	panel := indicator.NewPanel(indicator.ConsoleDisplay{})
	defer panel.Close()

	publisher := telemetry.New(telemetry.Options{
		Broker:          cfg.GetMQTTBroker(),
		ClientID:        cfg.GetMQTTClientID(),
		Username:        cfg.GetMQTTUsername(),
		Password:        cfg.GetMQTTPassword(),
		TopicLap:        cfg.GetTopicLap(),
		TopicStatus:     cfg.GetTopicStatus(),
		TopicStats:      cfg.GetTopicStatistics(),
		TopicHealth:     cfg.GetTopicHealth(),
		PublishInterval: cfg.GetPublishInterval(),
	}, engine, nil)
	if err := publisher.Start(); err != nil {
		log.Printf("telemetry unavailable: %v", err)
	}
	defer publisher.Stop()

	if *devMode {
		if err := engine.StartRace(); err != nil {
			log.Printf("dev mode: could not auto-start race: %v", err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// engine update loop: poll the cached sensor sample, advance the state
	// machine, and route lap events to the panel and telemetry
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(updateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Printf("update loop terminated")
				return
			case <-ticker.C:
				if event := engine.Update(); event != nil {
					panel.ShowResult(event.LapTime, event.Status)
					if publisher.Enabled() {
						var lapNumber *int
						if event.Status == timing.LapCompleted {
							n := engine.Statistics().CompletedLaps
							lapNumber = &n
						}
						if err := publisher.PublishLapEvent(event.LapTime, event.Status, lapNumber); err != nil {
							log.Printf("failed to publish lap event: %v", err)
						}
					}
				}
				panel.Update(engine.Status().CurrentState)
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(engine)
		mux := apiServer.ServeMux()

		// debug pages (pprof, varz, sensor inspection)
		api.AttachDebugRoutes(mux, sensor)

		addr := *listen
		if addr == "" {
			addr = cfg.GetWebAddr()
		}
		server := &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(api.HeadersMiddleware(mux)),
		}

		go func() {
			log.Printf("HTTP server listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
