// Package influxdb stores regulator telemetry in InfluxDB v2.
//
// Writes go through the non-blocking batched write API; errors surface
// asynchronously via SetOnError. The ingest pipeline in internal/telemetry
// is the only producer.
package influxdb
