// Package logging provides structured logging for FleetGate Core.
//
// It wraps log/slog with service defaults (service name, version) and
// config-driven level/format/output selection. Components receive a
// *logging.Logger and add their own attributes via With.
package logging
