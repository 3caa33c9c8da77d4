package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetgate/fleetgate-core/internal/infrastructure/logging"
)

// Domain event types announced over the realtime hub.
const (
	EventStatusChanged = "regulator_status_changed"
	EventCheckedOut    = "regulator_checked_out"
	EventCheckedIn     = "regulator_checked_in"
)

// FleetChannel returns the realtime channel key for a fleet.
func FleetChannel(fleetID string) string {
	return "fleet:" + fleetID
}

// RegulatorChannel returns the realtime channel key for a single device.
func RegulatorChannel(regulatorID string) string {
	return "device:" + regulatorID
}

// EventPublisher fans a domain event out to realtime channels.
// Implemented by the websocket hub; a nil publisher drops events.
type EventPublisher interface {
	Broadcast(eventType string, payload any, channels ...string)
}

// StatusEvent is the payload for regulator lifecycle events.
type StatusEvent struct {
	RegulatorID string          `json:"regulator_id"`
	FleetID     string          `json:"fleet_id,omitempty"`
	Status      RegulatorStatus `json:"status"`
	UserID      string          `json:"user_id,omitempty"`
	RentalID    string          `json:"rental_id,omitempty"`
}

// Service runs the rental state machine over the repository and announces
// transitions to subscribers.
type Service struct {
	repo   Repository
	events EventPublisher
	logger *logging.Logger
}

// NewService creates a fleet service. events may be nil.
func NewService(repo Repository, events EventPublisher, logger *logging.Logger) *Service {
	return &Service{
		repo:   repo,
		events: events,
		logger: logger.With("component", "fleet"),
	}
}

// Checkout opens a rental of a regulator for a user.
// Only an available unit can be checked out.
func (s *Service) Checkout(ctx context.Context, regulatorID, userID string) (*Rental, error) {
	reg, err := s.repo.GetRegulator(ctx, regulatorID)
	if err != nil {
		return nil, err
	}
	if reg.Status != StatusAvailable {
		return nil, fmt.Errorf("%w: status %s", ErrNotAvailable, reg.Status)
	}

	rental := &Rental{
		RegulatorID: regulatorID,
		UserID:      userID,
	}
	if err := s.repo.CreateRental(ctx, rental); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateRegulatorStatus(ctx, regulatorID, StatusCheckedOut, userID); err != nil {
		return nil, err
	}

	s.logger.Info("regulator checked out",
		"regulator_id", regulatorID, "user_id", userID, "rental_id", rental.ID)

	s.broadcast(EventCheckedOut, StatusEvent{
		RegulatorID: regulatorID,
		FleetID:     reg.FleetID,
		Status:      StatusCheckedOut,
		UserID:      userID,
		RentalID:    rental.ID,
	}, reg.FleetID, regulatorID)

	return rental, nil
}

// Checkin closes the open rental on a regulator and returns the unit to
// the available pool.
func (s *Service) Checkin(ctx context.Context, regulatorID string) (*Rental, error) {
	reg, err := s.repo.GetRegulator(ctx, regulatorID)
	if err != nil {
		return nil, err
	}

	rental, err := s.repo.GetOpenRental(ctx, regulatorID)
	if err != nil {
		if errors.Is(err, ErrRentalNotFound) {
			return nil, ErrNotCheckedOut
		}
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.repo.CloseRental(ctx, rental.ID, now); err != nil {
		return nil, err
	}
	rental.CheckedInAt = &now

	if err := s.repo.UpdateRegulatorStatus(ctx, regulatorID, StatusAvailable, ""); err != nil {
		return nil, err
	}

	s.logger.Info("regulator checked in",
		"regulator_id", regulatorID, "user_id", rental.UserID, "rental_id", rental.ID)

	s.broadcast(EventCheckedIn, StatusEvent{
		RegulatorID: regulatorID,
		FleetID:     reg.FleetID,
		Status:      StatusAvailable,
		UserID:      rental.UserID,
		RentalID:    rental.ID,
	}, reg.FleetID, regulatorID)

	return rental, nil
}

// SetStatus transitions a regulator between non-rental states
// (maintenance, offline, back to available). Rental transitions go
// through Checkout and Checkin.
func (s *Service) SetStatus(ctx context.Context, regulatorID string, status RegulatorStatus) error {
	if !IsValidStatus(status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	if status == StatusCheckedOut {
		return fmt.Errorf("%w: checkout required", ErrInvalidStatus)
	}

	reg, err := s.repo.GetRegulator(ctx, regulatorID)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateRegulatorStatus(ctx, regulatorID, status, ""); err != nil {
		return err
	}

	s.logger.Info("regulator status changed",
		"regulator_id", regulatorID, "from", string(reg.Status), "to", string(status))

	s.broadcast(EventStatusChanged, StatusEvent{
		RegulatorID: regulatorID,
		FleetID:     reg.FleetID,
		Status:      status,
	}, reg.FleetID, regulatorID)

	return nil
}

// broadcast announces an event on the fleet and regulator channels.
// fleetID may be empty for owner-held units.
func (s *Service) broadcast(eventType string, payload StatusEvent, fleetID, regulatorID string) {
	if s.events == nil {
		return
	}
	channels := []string{RegulatorChannel(regulatorID)}
	if fleetID != "" {
		channels = append(channels, FleetChannel(fleetID))
	}
	s.events.Broadcast(eventType, payload, channels...)
}
