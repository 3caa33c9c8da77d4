// FleetGate Core - Regulator Rental Platform
//
// This is the main entry point for the FleetGate Core backend. It wires
// the credential lifecycle, the fleet rental state machine, the MQTT
// telemetry ingest and the realtime hub behind one HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/fleetgate/fleetgate-core/migrations"

	"github.com/fleetgate/fleetgate-core/internal/api"
	"github.com/fleetgate/fleetgate-core/internal/auth"
	"github.com/fleetgate/fleetgate-core/internal/fleet"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/config"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/database"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/influxdb"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/logging"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/mqtt"
	"github.com/fleetgate/fleetgate-core/internal/notify"
	"github.com/fleetgate/fleetgate-core/internal/telemetry"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting FleetGate Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and bring the schema up to date
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

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Repositories
	userRepo := auth.NewUserRepository(db.DB)
	tokenRepo := auth.NewTokenRepository(db.DB)
	resetRepo := auth.NewResetRepository(db.DB)
	fleetRepo := fleet.NewRepository(db.DB)

	// Realtime hub; the fleet repository resolves regulator scopes for
	// subscription authorisation.
	hub := api.NewHub(cfg.WebSocket, fleetRepo, log)

	// Domain services
	mailer := notify.New(cfg.Mail, log)
	authSvc := auth.NewService(userRepo, tokenRepo, resetRepo, fleetRepo, mailer, auth.ServiceConfig{
		JWTSecret:       cfg.Security.JWT.Secret,
		AccessTokenTTL:  cfg.AccessTokenTTL(),
		RefreshTokenTTL: cfg.RefreshTokenTTL(),
		ResetTokenTTL:   cfg.ResetTokenTTL(),
		AppURL:          cfg.Mail.AppURL,
	}, log)
	fleetSvc := fleet.NewService(fleetRepo, hub, log)

	// MQTT broker (optional)
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
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
			"client_id", cfg.MQTT.ClientID,
		)
	} else {
		log.Info("MQTT disabled, telemetry ingest off")
	}

	// InfluxDB telemetry sink (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Telemetry ingest: broker samples flow into the sink and the hub
	if mqttClient != nil {
		var sink telemetry.Sink
		if influxClient != nil {
			sink = influxClient
		}
		ingestor := telemetry.NewIngestor(fleetRepo, sink, hub, log)
		if err := ingestor.Start(mqttClient); err != nil {
			return fmt.Errorf("starting telemetry ingest: %w", err)
		}
	}

	// HTTP API server
	deps := api.Deps{
		Config:      cfg.Server,
		WS:          cfg.WebSocket,
		Logger:      log,
		Auth:        authSvc,
		Users:       userRepo,
		Fleets:      fleetRepo,
		FleetSvc:    fleetSvc,
		DB:          db,
		ExternalHub: hub,
		Version:     version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
		deps.Influx = influxClient
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FLEETGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FLEETGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
