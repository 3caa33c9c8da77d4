package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for fleet and regulator persistence.
type Repository interface {
	CreateFleet(ctx context.Context, f *Fleet) error
	GetFleet(ctx context.Context, id string) (*Fleet, error)
	ListFleets(ctx context.Context) ([]Fleet, error)
	UpdateFleet(ctx context.Context, f *Fleet) error
	DeleteFleet(ctx context.Context, id string) error

	CreateRegulator(ctx context.Context, r *Regulator) error
	GetRegulator(ctx context.Context, id string) (*Regulator, error)
	GetRegulatorScope(ctx context.Context, id string) (*Scope, error)
	ListRegulators(ctx context.Context) ([]Regulator, error)
	ListRegulatorsByFleet(ctx context.Context, fleetID string) ([]Regulator, error)
	ListRegulatorsByOwner(ctx context.Context, ownerUserID string) ([]Regulator, error)
	UpdateRegulator(ctx context.Context, r *Regulator) error
	UpdateRegulatorStatus(ctx context.Context, id string, status RegulatorStatus, checkedOutBy string) error
	DeleteRegulator(ctx context.Context, id string) error

	CreateRental(ctx context.Context, rental *Rental) error
	GetOpenRental(ctx context.Context, regulatorID string) (*Rental, error)
	CloseRental(ctx context.Context, id string, at time.Time) error
	ListRentalsByUser(ctx context.Context, userID string) ([]Rental, error)
	ListRentalsByRegulator(ctx context.Context, regulatorID string) ([]Rental, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewRepository creates a new SQLite-backed fleet repository.
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// OwnedRegulatorIDs returns the IDs of regulators owned by a user, for
// embedding in access token claims. Satisfies auth.ScopeResolver.
func (r *SQLiteRepository) OwnedRegulatorIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM regulators WHERE owner_user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("listing owned regulators: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning regulator id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating regulators: %w", err)
	}
	return ids, nil
}

// CreateFleet inserts a new fleet. The ID is generated if empty.
func (r *SQLiteRepository) CreateFleet(ctx context.Context, f *Fleet) error {
	if f.ID == "" {
		f.ID = "flt-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	f.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	f.UpdatedAt = f.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fleets (id, name, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Description, now, now,
	)
	if err != nil {
		return fmt.Errorf("creating fleet: %w", err)
	}
	return nil
}

// GetFleet retrieves a fleet by ID.
func (r *SQLiteRepository) GetFleet(ctx context.Context, id string) (*Fleet, error) {
	var f Fleet
	var createdAt, updatedAt string

	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM fleets WHERE id = ?", id,
	).Scan(&f.ID, &f.Name, &f.Description, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFleetNotFound
		}
		return nil, fmt.Errorf("getting fleet: %w", err)
	}

	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &f, nil
}

// ListFleets returns all fleets ordered by name.
func (r *SQLiteRepository) ListFleets(ctx context.Context) ([]Fleet, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM fleets ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("listing fleets: %w", err)
	}
	defer rows.Close()

	fleets := []Fleet{}
	for rows.Next() {
		var f Fleet
		var createdAt, updatedAt string
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning fleet: %w", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
		fleets = append(fleets, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fleets: %w", err)
	}
	return fleets, nil
}

// UpdateFleet modifies a fleet's name and description.
func (r *SQLiteRepository) UpdateFleet(ctx context.Context, f *Fleet) error {
	now := time.Now().UTC().Format(time.RFC3339)
	f.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	result, err := r.db.ExecContext(ctx,
		"UPDATE fleets SET name = ?, description = ?, updated_at = ? WHERE id = ?",
		f.Name, f.Description, now, f.ID,
	)
	if err != nil {
		return fmt.Errorf("updating fleet: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrFleetNotFound
	}
	return nil
}

// DeleteFleet removes a fleet. Its regulators are detached, not deleted.
func (r *SQLiteRepository) DeleteFleet(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM fleets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting fleet: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrFleetNotFound
	}
	return nil
}

const regulatorColumns = "id, serial_number, fleet_id, owner_user_id, status, checked_out_by, created_at, updated_at"

// CreateRegulator inserts a new regulator. The ID is generated if empty
// and the status defaults to available.
func (r *SQLiteRepository) CreateRegulator(ctx context.Context, reg *Regulator) error {
	if reg.ID == "" {
		reg.ID = "reg-" + uuid.NewString()[:8]
	}
	if reg.Status == "" {
		reg.Status = StatusAvailable
	}
	if !IsValidStatus(reg.Status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, reg.Status)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	reg.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	reg.UpdatedAt = reg.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO regulators (id, serial_number, fleet_id, owner_user_id, status, checked_out_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		reg.ID, reg.SerialNumber, nullString(reg.FleetID), nullString(reg.OwnerUserID),
		string(reg.Status), nullString(reg.CheckedOutBy), now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrRegulatorExists
		}
		return fmt.Errorf("creating regulator: %w", err)
	}
	return nil
}

// GetRegulator retrieves a regulator by ID.
func (r *SQLiteRepository) GetRegulator(ctx context.Context, id string) (*Regulator, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+regulatorColumns+" FROM regulators WHERE id = ?", id)
	reg, err := scanRegulator(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegulatorNotFound
		}
		return nil, fmt.Errorf("getting regulator: %w", err)
	}
	return reg, nil
}

// GetRegulatorScope retrieves only a regulator's authorisation scope.
// Cheaper than GetRegulator for the per-subscription realtime check.
func (r *SQLiteRepository) GetRegulatorScope(ctx context.Context, id string) (*Scope, error) {
	var s Scope
	var fleetID, ownerID sql.NullString

	err := r.db.QueryRowContext(ctx,
		"SELECT id, fleet_id, owner_user_id FROM regulators WHERE id = ?", id,
	).Scan(&s.RegulatorID, &fleetID, &ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegulatorNotFound
		}
		return nil, fmt.Errorf("getting regulator scope: %w", err)
	}

	if fleetID.Valid {
		s.FleetID = fleetID.String
	}
	if ownerID.Valid {
		s.OwnerUserID = ownerID.String
	}
	return &s, nil
}

// ListRegulators returns all regulators ordered by serial number.
func (r *SQLiteRepository) ListRegulators(ctx context.Context) ([]Regulator, error) {
	return r.listRegulators(ctx,
		"SELECT "+regulatorColumns+" FROM regulators ORDER BY serial_number ASC")
}

// ListRegulatorsByFleet returns a fleet's regulators.
func (r *SQLiteRepository) ListRegulatorsByFleet(ctx context.Context, fleetID string) ([]Regulator, error) {
	return r.listRegulators(ctx,
		"SELECT "+regulatorColumns+" FROM regulators WHERE fleet_id = ? ORDER BY serial_number ASC", fleetID)
}

// ListRegulatorsByOwner returns an individual owner's regulators.
func (r *SQLiteRepository) ListRegulatorsByOwner(ctx context.Context, ownerUserID string) ([]Regulator, error) {
	return r.listRegulators(ctx,
		"SELECT "+regulatorColumns+" FROM regulators WHERE owner_user_id = ? ORDER BY serial_number ASC", ownerUserID)
}

// UpdateRegulator modifies a regulator's assignment fields.
func (r *SQLiteRepository) UpdateRegulator(ctx context.Context, reg *Regulator) error {
	if !IsValidStatus(reg.Status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, reg.Status)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	reg.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	result, err := r.db.ExecContext(ctx,
		`UPDATE regulators SET serial_number = ?, fleet_id = ?, owner_user_id = ?, status = ?, checked_out_by = ?, updated_at = ?
		 WHERE id = ?`,
		reg.SerialNumber, nullString(reg.FleetID), nullString(reg.OwnerUserID),
		string(reg.Status), nullString(reg.CheckedOutBy), now, reg.ID,
	)
	if err != nil {
		return fmt.Errorf("updating regulator: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrRegulatorNotFound
	}
	return nil
}

// UpdateRegulatorStatus transitions a regulator's status and records who
// holds it (empty to clear).
func (r *SQLiteRepository) UpdateRegulatorStatus(ctx context.Context, id string, status RegulatorStatus, checkedOutBy string) error {
	if !IsValidStatus(status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE regulators SET status = ?, checked_out_by = ?, updated_at = ? WHERE id = ?",
		string(status), nullString(checkedOutBy), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating regulator status: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrRegulatorNotFound
	}
	return nil
}

// DeleteRegulator removes a regulator and its rental history.
func (r *SQLiteRepository) DeleteRegulator(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM regulators WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting regulator: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrRegulatorNotFound
	}
	return nil
}

// CreateRental opens a rental. The ID is generated if empty.
func (r *SQLiteRepository) CreateRental(ctx context.Context, rental *Rental) error {
	if rental.ID == "" {
		rental.ID = "rnt-" + uuid.NewString()[:8]
	}
	if rental.CheckedOutAt.IsZero() {
		rental.CheckedOutAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rentals (id, regulator_id, user_id, checked_out_at, checked_in_at)
		 VALUES (?, ?, ?, ?, NULL)`,
		rental.ID, rental.RegulatorID, rental.UserID,
		rental.CheckedOutAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating rental: %w", err)
	}
	return nil
}

// GetOpenRental retrieves the open rental for a regulator, if any.
func (r *SQLiteRepository) GetOpenRental(ctx context.Context, regulatorID string) (*Rental, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, regulator_id, user_id, checked_out_at, checked_in_at
		 FROM rentals WHERE regulator_id = ? AND checked_in_at IS NULL`,
		regulatorID)
	rental, err := scanRental(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRentalNotFound
		}
		return nil, fmt.Errorf("getting open rental: %w", err)
	}
	return rental, nil
}

// CloseRental records the check-in time on an open rental.
func (r *SQLiteRepository) CloseRental(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE rentals SET checked_in_at = ? WHERE id = ? AND checked_in_at IS NULL",
		at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("closing rental: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrRentalNotFound
	}
	return nil
}

// ListRentalsByUser returns a user's rental history, newest first.
func (r *SQLiteRepository) ListRentalsByUser(ctx context.Context, userID string) ([]Rental, error) {
	return r.listRentals(ctx,
		`SELECT id, regulator_id, user_id, checked_out_at, checked_in_at
		 FROM rentals WHERE user_id = ? ORDER BY checked_out_at DESC`, userID)
}

// ListRentalsByRegulator returns a regulator's rental history, newest first.
func (r *SQLiteRepository) ListRentalsByRegulator(ctx context.Context, regulatorID string) ([]Rental, error) {
	return r.listRentals(ctx,
		`SELECT id, regulator_id, user_id, checked_out_at, checked_in_at
		 FROM rentals WHERE regulator_id = ? ORDER BY checked_out_at DESC`, regulatorID)
}

func (r *SQLiteRepository) listRegulators(ctx context.Context, query string, args ...any) ([]Regulator, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing regulators: %w", err)
	}
	defer rows.Close()

	regs := []Regulator{}
	for rows.Next() {
		reg, err := scanRegulator(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning regulator: %w", err)
		}
		regs = append(regs, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating regulators: %w", err)
	}
	return regs, nil
}

func (r *SQLiteRepository) listRentals(ctx context.Context, query string, args ...any) ([]Rental, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing rentals: %w", err)
	}
	defer rows.Close()

	rentals := []Rental{}
	for rows.Next() {
		rental, err := scanRental(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rental: %w", err)
		}
		rentals = append(rentals, *rental)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rentals: %w", err)
	}
	return rentals, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRegulator scans a regulator row in regulatorColumns order.
func scanRegulator(s rowScanner) (*Regulator, error) {
	var reg Regulator
	var fleetID, ownerID, checkedOutBy sql.NullString
	var status, createdAt, updatedAt string

	err := s.Scan(&reg.ID, &reg.SerialNumber, &fleetID, &ownerID,
		&status, &checkedOutBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	reg.Status = RegulatorStatus(status)
	if fleetID.Valid {
		reg.FleetID = fleetID.String
	}
	if ownerID.Valid {
		reg.OwnerUserID = ownerID.String
	}
	if checkedOutBy.Valid {
		reg.CheckedOutBy = checkedOutBy.String
	}
	reg.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	reg.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &reg, nil
}

// scanRental scans a rental row.
func scanRental(s rowScanner) (*Rental, error) {
	var rental Rental
	var checkedOutAt string
	var checkedInAt sql.NullString

	err := s.Scan(&rental.ID, &rental.RegulatorID, &rental.UserID, &checkedOutAt, &checkedInAt)
	if err != nil {
		return nil, err
	}

	rental.CheckedOutAt, _ = time.Parse(time.RFC3339, checkedOutAt) //nolint:errcheck // format is controlled
	if checkedInAt.Valid {
		ts, _ := time.Parse(time.RFC3339, checkedInAt.String) //nolint:errcheck // format is controlled
		rental.CheckedInAt = &ts
	}
	return &rental, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
