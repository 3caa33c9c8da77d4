package fleet

import (
	"errors"
	"time"
)

// RegulatorStatus is the operational state of a regulator unit.
type RegulatorStatus string

const (
	// StatusAvailable means the unit is in stock and can be checked out.
	StatusAvailable RegulatorStatus = "available"

	// StatusCheckedOut means the unit is out on a rental.
	StatusCheckedOut RegulatorStatus = "checked_out"

	// StatusMaintenance means the unit is pulled from circulation for
	// service.
	StatusMaintenance RegulatorStatus = "maintenance"

	// StatusOffline means the unit has stopped reporting telemetry.
	StatusOffline RegulatorStatus = "offline"
)

// validStatuses is the set of accepted regulator statuses.
var validStatuses = map[RegulatorStatus]bool{
	StatusAvailable:   true,
	StatusCheckedOut:  true,
	StatusMaintenance: true,
	StatusOffline:     true,
}

// IsValidStatus returns true for a defined regulator status.
func IsValidStatus(s RegulatorStatus) bool {
	return validStatuses[s]
}

// Fleet is a named pool of regulators managed together.
type Fleet struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Regulator is a single rentable unit. A unit belongs to a fleet, or to
// an individual owner, never both.
type Regulator struct {
	ID           string          `json:"id"`
	SerialNumber string          `json:"serial_number"`
	FleetID      string          `json:"fleet_id,omitempty"`
	OwnerUserID  string          `json:"owner_user_id,omitempty"`
	Status       RegulatorStatus `json:"status"`
	CheckedOutBy string          `json:"checked_out_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Scope is the authorisation scope of a regulator: which fleet it sits in
// and who owns it. This is the only regulator data the realtime layer
// needs to gate a subscription.
type Scope struct {
	RegulatorID string
	FleetID     string
	OwnerUserID string
}

// Rental is one checkout period of a regulator by a user. An open rental
// has no check-in time.
type Rental struct {
	ID           string     `json:"id"`
	RegulatorID  string     `json:"regulator_id"`
	UserID       string     `json:"user_id"`
	CheckedOutAt time.Time  `json:"checked_out_at"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty"`
}

// Sentinel errors for fleet operations.
var (
	// ErrFleetNotFound is returned when a fleet lookup finds no row.
	ErrFleetNotFound = errors.New("fleet not found")

	// ErrRegulatorNotFound is returned when a regulator lookup finds no row.
	ErrRegulatorNotFound = errors.New("regulator not found")

	// ErrRegulatorExists is returned when registering a duplicate serial.
	ErrRegulatorExists = errors.New("regulator already exists")

	// ErrRentalNotFound is returned when a rental lookup finds no row.
	ErrRentalNotFound = errors.New("rental not found")

	// ErrNotAvailable is returned when checking out a unit that is not in
	// the available state.
	ErrNotAvailable = errors.New("regulator not available")

	// ErrNotCheckedOut is returned when checking in a unit with no open
	// rental.
	ErrNotCheckedOut = errors.New("regulator not checked out")

	// ErrInvalidStatus is returned for an unknown regulator status.
	ErrInvalidStatus = errors.New("invalid regulator status")
)
