package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the FleetGate MQTT hierarchy.
//
// Regulator units publish under fleetgate/{category}/{regulator_id}.
const (
	// TopicPrefix is the base for all FleetGate topics.
	TopicPrefix = "fleetgate"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "fleetgate/system"
)

// Topics provides builders for FleetGate MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// Telemetry returns the topic a regulator publishes telemetry samples to.
//
// Example: fleetgate/telemetry/reg-1a2b3c4d
func (Topics) Telemetry(regulatorID string) string {
	return fmt.Sprintf("%s/telemetry/%s", TopicPrefix, regulatorID)
}

// AllTelemetry returns the wildcard pattern matching every regulator's
// telemetry topic.
func (Topics) AllTelemetry() string {
	return TopicPrefix + "/telemetry/+"
}

// Status returns the topic a regulator publishes status transitions to.
//
// Example: fleetgate/status/reg-1a2b3c4d
func (Topics) Status(regulatorID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, regulatorID)
}

// AllStatus returns the wildcard pattern matching every regulator's
// status topic.
func (Topics) AllStatus() string {
	return TopicPrefix + "/status/+"
}

// SystemStatus returns the service online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// RegulatorIDFromTopic extracts the regulator ID from a telemetry or
// status topic. Returns "" when the topic doesn't match the scheme.
func RegulatorIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix {
		return ""
	}
	if parts[1] != "telemetry" && parts[1] != "status" {
		return ""
	}
	return parts[2]
}
