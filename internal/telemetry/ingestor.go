package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fleetgate/fleetgate-core/internal/fleet"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/logging"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/mqtt"
)

// EventTelemetryReceived is announced on the realtime hub for each sample.
const EventTelemetryReceived = "telemetry_received"

// telemetryQoS is the subscription QoS for the ingest path. At-least-once
// is enough; duplicate samples are harmless in a time series.
const telemetryQoS = 1

// Subscriber is the broker surface the ingestor needs.
// Satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Sink stores telemetry samples. Satisfied by *influxdb.Client.
// A nil sink drops samples (realtime fan-out still happens).
type Sink interface {
	WriteTelemetry(regulatorID, fleetID string, fields map[string]interface{}, at time.Time)
}

// ScopeLookup resolves a regulator's fleet and owner.
// Satisfied by fleet.Repository.
type ScopeLookup interface {
	GetRegulatorScope(ctx context.Context, id string) (*fleet.Scope, error)
}

// Sample is the wire format regulators publish on their telemetry topic.
type Sample struct {
	Timestamp string             `json:"timestamp,omitempty"`
	Fields    map[string]float64 `json:"fields"`
}

// Event is the payload fanned out to realtime subscribers.
type Event struct {
	RegulatorID string             `json:"regulator_id"`
	FleetID     string             `json:"fleet_id,omitempty"`
	Fields      map[string]float64 `json:"fields"`
	ReceivedAt  time.Time          `json:"received_at"`
}

// Ingestor consumes regulator telemetry from the broker, persists it to
// the time-series sink, and fans it out to realtime subscribers.
type Ingestor struct {
	scopes ScopeLookup
	sink   Sink
	events fleet.EventPublisher
	logger *logging.Logger
}

// NewIngestor creates a telemetry ingestor. sink and events may be nil.
func NewIngestor(scopes ScopeLookup, sink Sink, events fleet.EventPublisher, logger *logging.Logger) *Ingestor {
	return &Ingestor{
		scopes: scopes,
		sink:   sink,
		events: events,
		logger: logger.With("component", "telemetry"),
	}
}

// Start subscribes to every regulator's telemetry topic.
func (i *Ingestor) Start(sub Subscriber) error {
	topic := mqtt.Topics{}.AllTelemetry()
	if err := sub.Subscribe(topic, telemetryQoS, i.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}
	i.logger.Info("telemetry ingest started", "topic", topic)
	return nil
}

// HandleMessage processes one telemetry message from the broker.
//
// Samples from unknown regulators are dropped: the topic namespace is
// open to anything that can reach the broker, so the inventory is the
// authority on which units exist.
func (i *Ingestor) HandleMessage(topic string, payload []byte) error {
	regulatorID := mqtt.RegulatorIDFromTopic(topic)
	if regulatorID == "" {
		return fmt.Errorf("unexpected telemetry topic %q", topic)
	}

	var sample Sample
	if err := json.Unmarshal(payload, &sample); err != nil {
		return fmt.Errorf("decoding telemetry from %s: %w", regulatorID, err)
	}
	if len(sample.Fields) == 0 {
		return fmt.Errorf("empty telemetry sample from %s", regulatorID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	scope, err := i.scopes.GetRegulatorScope(ctx, regulatorID)
	if err != nil {
		if errors.Is(err, fleet.ErrRegulatorNotFound) {
			i.logger.Warn("telemetry from unknown regulator", "regulator_id", regulatorID)
			return nil
		}
		return fmt.Errorf("resolving regulator %s: %w", regulatorID, err)
	}

	at := time.Now().UTC()
	if sample.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, sample.Timestamp); err == nil {
			at = ts
		}
	}

	if i.sink != nil {
		fields := make(map[string]interface{}, len(sample.Fields))
		for k, v := range sample.Fields {
			fields[k] = v
		}
		i.sink.WriteTelemetry(regulatorID, scope.FleetID, fields, at)
	}

	if i.events != nil {
		channels := []string{fleet.RegulatorChannel(regulatorID)}
		if scope.FleetID != "" {
			channels = append(channels, fleet.FleetChannel(scope.FleetID))
		}
		i.events.Broadcast(EventTelemetryReceived, Event{
			RegulatorID: regulatorID,
			FleetID:     scope.FleetID,
			Fields:      sample.Fields,
			ReceivedAt:  at,
		}, channels...)
	}

	return nil
}
