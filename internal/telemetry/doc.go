// Package telemetry ingests regulator telemetry from the MQTT broker.
//
// Each sample is validated against the regulator inventory, written to
// the InfluxDB sink, and fanned out to realtime subscribers on the unit's
// regulator and fleet channels.
package telemetry
