package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTelemetry writes one regulator telemetry sample.
//
// This is the primary method on the ingest path. The write is
// non-blocking; data is batched and sent asynchronously. fleetID may be
// empty for owner-held units.
func (c *Client) WriteTelemetry(regulatorID, fleetID string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	tags := map[string]string{
		"regulator_id": regulatorID,
	}
	if fleetID != "" {
		tags["fleet_id"] = fleetID
	}

	c.writeAPI.WritePoint(write.NewPoint("regulator_telemetry", tags, fields, at))
}

// WriteStatusTransition records a regulator status change for utilisation
// reporting.
func (c *Client) WriteStatusTransition(regulatorID, fleetID, status string) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"regulator_id": regulatorID,
	}
	if fleetID != "" {
		tags["fleet_id"] = fleetID
	}

	point := write.NewPoint(
		"regulator_status",
		tags,
		map[string]interface{}{
			"status": status,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
// Tags should stay low cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
