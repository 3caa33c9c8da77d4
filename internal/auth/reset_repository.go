package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResetRepository defines the interface for password reset persistence.
type ResetRepository interface {
	Create(ctx context.Context, reset *PasswordReset) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordReset, error)
	MarkUsed(ctx context.Context, id string) error
	InvalidateForUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteResetRepository implements ResetRepository using SQLite.
type SQLiteResetRepository struct {
	db *sql.DB
}

// NewResetRepository creates a new SQLite-backed reset repository.
func NewResetRepository(db *sql.DB) *SQLiteResetRepository {
	return &SQLiteResetRepository{db: db}
}

// Create inserts a new reset request. The ID is generated if empty.
func (r *SQLiteResetRepository) Create(ctx context.Context, reset *PasswordReset) error {
	if reset.ID == "" {
		reset.ID = "pr-" + uuid.NewString()[:16]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	reset.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_resets (id, user_id, token_hash, expires_at, used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		reset.ID, reset.UserID, reset.TokenHash,
		reset.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(reset.Used), now,
	)
	if err != nil {
		return fmt.Errorf("creating password reset: %w", err)
	}

	return nil
}

// GetByTokenHash retrieves a reset request by its SHA-256 hash.
func (r *SQLiteResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordReset, error) {
	var p PasswordReset
	var used int
	var expiresAt, createdAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, used, created_at
		 FROM password_resets WHERE token_hash = ?`, tokenHash,
	).Scan(&p.ID, &p.UserID, &p.TokenHash, &expiresAt, &used, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResetTokenInvalid
		}
		return nil, fmt.Errorf("getting password reset: %w", err)
	}

	p.Used = used != 0
	p.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &p, nil
}

// MarkUsed consumes a reset request so it cannot be replayed.
func (r *SQLiteResetRepository) MarkUsed(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE password_resets SET used = 1 WHERE id = ? AND used = 0", id)
	if err != nil {
		return fmt.Errorf("marking reset used: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrResetTokenInvalid
	}
	return nil
}

// InvalidateForUser consumes all outstanding reset requests for a user.
// Called before issuing a new one so only the latest emailed link works.
func (r *SQLiteResetRepository) InvalidateForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE password_resets SET used = 1 WHERE user_id = ? AND used = 0", userID)
	if err != nil {
		return fmt.Errorf("invalidating password resets: %w", err)
	}
	return nil
}

// DeleteExpired removes reset requests past their expiry. Returns rows deleted.
func (r *SQLiteResetRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM password_resets WHERE expires_at < ?",
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired resets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted resets: %w", err)
	}
	return n, nil
}
