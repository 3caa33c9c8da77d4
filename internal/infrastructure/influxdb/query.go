package influxdb

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TelemetryRow is one field value read back from the telemetry bucket.
type TelemetryRow struct {
	Time  time.Time `json:"time"`
	Field string    `json:"field"`
	Value float64   `json:"value"`
}

// maxQueryWindow caps how far back a telemetry query may reach.
const maxQueryWindow = 30 * 24 * time.Hour

// QueryRecentTelemetry reads a regulator's telemetry from the last
// `since` window, oldest first.
func (c *Client) QueryRecentTelemetry(ctx context.Context, regulatorID string, since time.Duration) ([]TelemetryRow, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if since <= 0 || since > maxQueryWindow {
		since = time.Hour
	}

	// Tag values are interpolated into Flux; strip anything that could
	// escape the string literal.
	id := sanitizeTagValue(regulatorID)

	query := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == "regulator_telemetry" and r.regulator_id == %q)
  |> sort(columns: ["_time"])`,
		c.cfg.Bucket, int(since.Seconds()), id)

	result, err := c.client.QueryAPI(c.cfg.Org).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry: %w", err)
	}

	var rows []TelemetryRow
	for result.Next() {
		record := result.Record()
		value, ok := record.Value().(float64)
		if !ok {
			continue
		}
		rows = append(rows, TelemetryRow{
			Time:  record.Time(),
			Field: record.Field(),
			Value: value,
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("reading telemetry result: %w", err)
	}
	return rows, nil
}

// sanitizeTagValue removes characters that would break out of a Flux
// string literal.
func sanitizeTagValue(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', '\n', '\r':
			return -1
		}
		return r
	}, v)
}
