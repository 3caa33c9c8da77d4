// Package mqtt wraps the paho MQTT client for FleetGate's telemetry
// ingest path.
//
// Regulator units in the field publish telemetry and status messages to
// an MQTT broker; this package maintains the broker connection, restores
// subscriptions across reconnects, and publishes the service's own
// online/offline status with a Last Will and Testament for crash
// detection. Topic construction lives in topics.go so the naming scheme
// has a single source.
package mqtt
