package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetgate/fleetgate-core/internal/auth"
	"github.com/fleetgate/fleetgate-core/internal/fleet"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/config"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/influxdb"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is the probe surface of an infrastructure component.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TelemetryReader reads back stored telemetry for the REST surface.
// Satisfied by *influxdb.Client.
type TelemetryReader interface {
	QueryRecentTelemetry(ctx context.Context, regulatorID string, since time.Duration) ([]influxdb.TelemetryRow, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.ServerConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger

	Auth     *auth.Service
	Users    auth.UserRepository
	Fleets   fleet.Repository
	FleetSvc *fleet.Service

	// Telemetry is optional; without it the telemetry endpoint reports
	// the store as unconfigured.
	Telemetry TelemetryReader

	// Optional health probes surfaced on /health.
	DB     HealthChecker
	MQTT   HealthChecker
	Influx HealthChecker

	// ExternalHub lets the caller construct the hub first, when other
	// components (fleet service, telemetry ingest) need it before the
	// server exists.
	ExternalHub *Hub

	Version string
}

// Server is the HTTP API server for FleetGate Core.
//
// It manages the HTTP listener, routes, middleware, and the realtime hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.ServerConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	auth      *auth.Service
	users     auth.UserRepository
	fleets    fleet.Repository
	fleetSvc  *fleet.Service
	telemetry TelemetryReader
	db        HealthChecker
	mqtt      HealthChecker
	influx    HealthChecker
	version   string

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if deps.Fleets == nil {
		return nil, fmt.Errorf("fleet repository is required")
	}
	if deps.FleetSvc == nil {
		return nil, fmt.Errorf("fleet service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		auth:      deps.Auth,
		users:     deps.Users,
		fleets:    deps.Fleets,
		fleetSvc:  deps.FleetSvc,
		telemetry: deps.Telemetry,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		influx:    deps.Influx,
		version:   deps.Version,
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router, starts the hub's probe loop, and launches the
// HTTP listener in a background goroutine. Stop with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.fleets, s.logger)
	}
	go s.hub.Run(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Hub returns the realtime hub. Available after New when an external hub
// was injected, otherwise after Start.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Stops the hub's probe loop and disconnects realtime clients.
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
