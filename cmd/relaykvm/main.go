// RelayKVM Core - KVM-over-IP appliance control plane
//
// This is the main entry point for the RelayKVM Core application.
// RelayKVM supervises the video capture pipeline of a KVM-over-IP
// appliance:
//   - GPIO power sequencing for the capture board and HDMI converter
//   - USB capture device discovery by interface bind
//   - Supervised streamer process with automatic restart
//   - REST/WebSocket/MQTT control surfaces for operators and fleet tooling
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/relaykvm/relaykvm-core/migrations"

	"github.com/relaykvm/relaykvm-core/internal/api"
	"github.com/relaykvm/relaykvm-core/internal/gpio"
	"github.com/relaykvm/relaykvm-core/internal/infrastructure/config"
	"github.com/relaykvm/relaykvm-core/internal/infrastructure/database"
	"github.com/relaykvm/relaykvm-core/internal/infrastructure/influxdb"
	"github.com/relaykvm/relaykvm-core/internal/infrastructure/logging"
	"github.com/relaykvm/relaykvm-core/internal/infrastructure/mqtt"
	"github.com/relaykvm/relaykvm-core/internal/journal"
	"github.com/relaykvm/relaykvm-core/internal/streamer"
	"github.com/relaykvm/relaykvm-core/internal/videodev"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds hardware power-down during shutdown.
const shutdownTimeout = 15 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit // linear startup sequence; each step is a few lines
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting RelayKVM Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Event journal
	events := journal.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Claim GPIO power lines
	var capPin, convPin streamer.PinWriter
	if cfg.Streamer.CapPowerLine > 0 {
		pin, pinErr := gpio.RequestOutput(cfg.Streamer.GPIOChip, cfg.Streamer.CapPowerLine)
		if pinErr != nil {
			return fmt.Errorf("claiming capture power line: %w", pinErr)
		}
		defer pin.Close() //nolint:errcheck // releasing a GPIO line cannot meaningfully fail here
		capPin = pin
		log.Info("capture power line claimed", "pin", pin.String())
	}
	if cfg.Streamer.ConvPowerLine > 0 {
		pin, pinErr := gpio.RequestOutput(cfg.Streamer.GPIOChip, cfg.Streamer.ConvPowerLine)
		if pinErr != nil {
			return fmt.Errorf("claiming converter power line: %w", pinErr)
		}
		defer pin.Close() //nolint:errcheck // releasing a GPIO line cannot meaningfully fail here
		convPin = pin
		log.Info("converter power line claimed", "pin", pin.String())
	}

	// Device locator and WebSocket hub
	locator := videodev.New()
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Build the supervisor with hooks fanning out to journal, MQTT,
	// InfluxDB and WebSocket clients.
	announcer := &eventAnnouncer{
		siteID:  cfg.Site.ID,
		log:     log,
		journal: events,
		mqtt:    mqttClient,
		influx:  influxClient,
		hub:     hub,
	}

	str, err := streamer.New(streamer.Config{
		CapPin:          capPin,
		ConvPin:         convPin,
		Bind:            cfg.Streamer.Bind,
		Locator:         locator,
		SyncDelay:       cfg.Streamer.GetSyncDelay(),
		InitDelay:       cfg.Streamer.GetInitDelay(),
		Width:           cfg.Streamer.Width,
		Height:          cfg.Streamer.Height,
		Command:         cfg.Streamer.Command,
		RestartCooldown: cfg.Streamer.GetRestartCooldown(),
		Hooks:           announcer.hooks(),
	})
	if err != nil {
		return fmt.Errorf("creating streamer: %w", err)
	}
	str.SetLogger(log.With("component", "streamer"))
	announcer.streamer = str
	defer func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cleanupCancel()
		log.Info("powering down capture hardware")
		if cleanupErr := str.Cleanup(cleanupCtx); cleanupErr != nil {
			log.Error("streamer cleanup failed", "error", cleanupErr)
		}
	}()

	// Subscribe to operator commands from the bus
	if mqttClient != nil {
		if subErr := subscribeCommands(cfg, mqttClient, str, announcer, log); subErr != nil {
			return fmt.Errorf("subscribing to streamer commands: %w", subErr)
		}
		// Retained state so fleet tooling sees us immediately
		announcer.publishState()
	}

	// Start API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.With("component", "api"),
		Streamer:    str,
		Journal:     events,
		Locator:     locator,
		Bind:        cfg.Streamer.Bind,
		MQTT:        mqttClient,
		DB:          db,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Streamer cleanup (process kill + power-down)
	// 3. GPIO lines
	// 4. InfluxDB (if enabled)
	// 5. MQTT (if enabled)
	// 6. Database

	log.Info("RelayKVM Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RELAYKVM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RELAYKVM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT (if enabled)
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// commandMessage is the payload of the streamer command topic.
type commandMessage struct {
	Action string `json:"action"`
}

// subscribeCommands wires the MQTT command topic to the supervisor so fleet
// tooling can start and stop the streamer without going through the REST API.
func subscribeCommands(cfg *config.Config, client *mqtt.Client, str *streamer.Streamer, announcer *eventAnnouncer, log *logging.Logger) error {
	topics := mqtt.Topics{}
	return client.Subscribe(topics.StreamerCommand(), byte(cfg.MQTT.QoS), func(_ string, payload []byte) error {
		var cmd commandMessage
		if err := json.Unmarshal(payload, &cmd); err != nil {
			log.Warn("invalid streamer command payload", "error", err)
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		switch cmd.Action {
		case "start":
			if err := str.Start(ctx); err != nil {
				log.Warn("streamer start via MQTT failed", "error", err)
				return nil
			}
			announcer.recordLifecycle(journal.EventStreamerStarted, "mqtt")
		case "stop":
			if err := str.Stop(ctx); err != nil {
				log.Warn("streamer stop via MQTT failed", "error", err)
				return nil
			}
			announcer.recordLifecycle(journal.EventStreamerStopped, "mqtt")
		default:
			log.Warn("unknown streamer command", "action", cmd.Action)
			return nil
		}

		announcer.publishState()
		return nil
	})
}

// eventAnnouncer fans supervisor lifecycle events out to the journal, the
// MQTT bus, InfluxDB telemetry and WebSocket clients. Every sink is optional
// and failures never propagate back into the supervisor loop.
type eventAnnouncer struct {
	siteID   string
	log      *logging.Logger
	journal  journal.Repository
	mqtt     *mqtt.Client
	influx   *influxdb.Client
	hub      *api.Hub
	streamer *streamer.Streamer
}

// hooks builds the supervisor callback set.
func (a *eventAnnouncer) hooks() streamer.Hooks {
	return streamer.Hooks{
		ProcessStarted: func(pid int, device string) {
			a.announce(journal.EventProcessStarted, map[string]any{
				"pid":    pid,
				"device": device,
			})
			a.publishState()
		},
		ProcessExited: func(err error) {
			details := map[string]any{}
			if err != nil {
				details["error"] = err.Error()
			}
			a.announce(journal.EventProcessExited, details)
			a.publishState()
		},
		DeviceMissing: func(bind string) {
			a.announce(journal.EventDeviceMissing, map[string]any{"bind": bind})
		},
		Restarting: func() {
			a.announce(journal.EventRestarting, nil)
		},
	}
}

// announce records a supervisor event in every configured sink.
func (a *eventAnnouncer) announce(eventType string, details map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := &journal.Event{
		Type:    eventType,
		Source:  "supervisor",
		Details: details,
	}
	if err := a.journal.Record(ctx, event); err != nil {
		a.log.Warn("failed to record supervisor event", "type", eventType, "error", err)
	}

	if a.hub != nil {
		a.hub.Broadcast(api.ChannelStreamerEvent, event)
	}

	if a.mqtt != nil && a.mqtt.IsConnected() {
		payload, err := json.Marshal(event)
		if err == nil {
			topics := mqtt.Topics{}
			if pubErr := a.mqtt.Publish(topics.StreamerEvent(eventType), payload, 1, false); pubErr != nil {
				a.log.Warn("failed to publish supervisor event", "type", eventType, "error", pubErr)
			}
		}
	}

	if a.influx != nil {
		a.influx.WriteStreamerEvent(a.siteID, eventType)
	}
}

// recordLifecycle records an operator-initiated start/stop with its source.
func (a *eventAnnouncer) recordLifecycle(eventType, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := &journal.Event{Type: eventType, Source: source}
	if err := a.journal.Record(ctx, event); err != nil {
		a.log.Warn("failed to record lifecycle event", "type", eventType, "error", err)
	}
}

// publishState pushes the current state snapshot to WebSocket clients, the
// retained MQTT state topic and InfluxDB.
func (a *eventAnnouncer) publishState() {
	if a.streamer == nil {
		return
	}
	state := a.streamer.State()
	stats := a.streamer.Stats()

	if a.hub != nil {
		a.hub.Broadcast(api.ChannelStreamerState, state)
	}

	if a.mqtt != nil && a.mqtt.IsConnected() {
		payload, err := json.Marshal(state)
		if err == nil {
			topics := mqtt.Topics{}
			if pubErr := a.mqtt.PublishRetained(topics.StreamerState(), payload); pubErr != nil {
				a.log.Warn("failed to publish streamer state", "error", pubErr)
			}
		}
	}

	if a.influx != nil {
		a.influx.WriteStreamerState(a.siteID, state.IsRunning, stats.Restarts)
	}
}
