package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetgate/fleetgate-core/internal/auth"
)

// healthProbeTimeout bounds each component probe on /health.
const healthProbeTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Credential endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/forgot-password", s.handleForgotPassword)
		r.Post("/auth/reset-password", s.handleResetPassword)

		// Realtime hub (auth via token query parameter, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/change-password", s.handleChangePassword)
			r.Post("/auth/logout", s.handleLogout)
			r.Post("/auth/logout-all", s.handleLogoutAll)

			// Account management (per-account authority checked in handlers)
			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Patch("/", s.handleUpdateUser)
					r.Delete("/", s.handleDeleteUser)
				})
			})

			// Fleet endpoints
			r.Route("/fleets", func(r chi.Router) {
				r.Get("/", s.handleListFleets)
				r.With(s.requireRole(auth.RoleAdmin, auth.RoleSubAdmin)).
					Post("/", s.handleCreateFleet)
				r.Get("/{id}", s.handleGetFleet)
			})

			// Regulator endpoints
			r.Route("/regulators", func(r chi.Router) {
				r.Get("/", s.handleListRegulators)
				r.With(s.requireRole(auth.RoleAdmin, auth.RoleSubAdmin)).
					Post("/", s.handleCreateRegulator)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetRegulator)
					r.Post("/checkout", s.handleCheckout)
					r.Post("/checkin", s.handleCheckin)
					r.Put("/status", s.handleSetStatus)
					r.Get("/rentals", s.handleRegulatorRentals)
					r.Get("/telemetry", s.handleRegulatorTelemetry)
				})
			})

			// Rental history for the caller
			r.Get("/rentals", s.handleMyRentals)
		})
	})

	return r
}

// handleHealth returns the server health status and per-component probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	components := map[string]string{
		"database": probe(ctx, s.db),
		"mqtt":     probe(ctx, s.mqtt),
		"influxdb": probe(ctx, s.influx),
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          s.version,
		"components":       components,
		"realtime_clients": s.hub.ClientCount(),
	})
}

// probe runs one component health check. Components that are not
// configured report as such rather than failing the endpoint.
func probe(ctx context.Context, hc HealthChecker) string {
	if hc == nil {
		return "not configured"
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
