package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenRepository defines the interface for session ledger persistence.
type TokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByID(ctx context.Context, id string) (*RefreshToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	Revoke(ctx context.Context, id string) error
	RevokeFamily(ctx context.Context, familyID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	Rotate(ctx context.Context, oldID string, successor *RefreshToken) error
	ListActiveByUser(ctx context.Context, userID string) ([]RefreshToken, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteTokenRepository implements TokenRepository using SQLite.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new SQLite-backed token repository.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
// Raw tokens are never stored — only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Create inserts a new session ledger entry. The ID is generated if empty.
func (r *SQLiteTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	if token.ID == "" {
		token.ID = "rt-" + uuid.NewString()[:16]
	}
	if token.FamilyID == "" {
		token.FamilyID = uuid.NewString()
	}

	now := time.Now().UTC().Format(time.RFC3339)
	token.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, expires_at, revoked, revoked_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`,
		token.ID, token.UserID, token.FamilyID, token.TokenHash,
		token.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(token.Revoked), now,
	)
	if err != nil {
		return fmt.Errorf("creating refresh token: %w", err)
	}

	return nil
}

// GetByID retrieves a ledger entry by its ID.
//
//nolint:dupl // structurally similar to GetByTokenHash
func (r *SQLiteTokenRepository) GetByID(ctx context.Context, id string) (*RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, family_id, token_hash, expires_at, revoked, revoked_at, created_at
		 FROM refresh_tokens WHERE id = ?`, id,
	)
	t, err := scanRefreshToken(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("getting refresh token: %w", err)
	}
	return t, nil
}

// GetByTokenHash retrieves a ledger entry by its SHA-256 hash.
// Used during refresh/logout when the client sends the raw token.
//
//nolint:dupl // structurally similar to GetByID
func (r *SQLiteTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, family_id, token_hash, expires_at, revoked, revoked_at, created_at
		 FROM refresh_tokens WHERE token_hash = ?`, tokenHash,
	)
	t, err := scanRefreshToken(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("getting refresh token by hash: %w", err)
	}
	return t, nil
}

// Revoke marks a single ledger entry as revoked.
func (r *SQLiteTokenRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE id = ? AND revoked = 0",
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// RevokeFamily marks all entries in a family as revoked.
// This is the theft response: when a rotated token is presented again,
// the whole family is cut off so neither the thief nor the victim keeps
// a live session.
func (r *SQLiteTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE family_id = ? AND revoked = 0",
		time.Now().UTC().Format(time.RFC3339), familyID)
	if err != nil {
		return fmt.Errorf("revoking token family: %w", err)
	}
	return nil
}

// RevokeAllForUser marks every entry for a user as revoked.
// Used after a password reset so stolen sessions die with the old password.
func (r *SQLiteTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE user_id = ? AND revoked = 0",
		time.Now().UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("revoking user tokens: %w", err)
	}
	return nil
}

// Rotate atomically revokes the presented token and inserts its successor
// in the same family.
//
// The revocation is conditional on the row still being live. If two
// refreshes race on the same token, exactly one sees its UPDATE take
// effect; the loser gets ErrTokenRevoked and the caller treats it as
// reuse. This is the property the whole reuse-detection scheme rests on.
func (r *SQLiteTokenRepository) Rotate(ctx context.Context, oldID string, successor *RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting rotation transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE id = ? AND revoked = 0",
		time.Now().UTC().Format(time.RFC3339), oldID)
	if err != nil {
		return fmt.Errorf("revoking rotated token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rotation result: %w", err)
	}
	if affected == 0 {
		// Someone else already rotated or revoked this token.
		return ErrTokenRevoked
	}

	if successor.ID == "" {
		successor.ID = "rt-" + uuid.NewString()[:16]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	successor.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, expires_at, revoked, revoked_at, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, NULL, ?)`,
		successor.ID, successor.UserID, successor.FamilyID, successor.TokenHash,
		successor.ExpiresAt.UTC().Format(time.RFC3339), now,
	); err != nil {
		return fmt.Errorf("inserting successor token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}
	return nil
}

// ListActiveByUser returns all live, unexpired entries for a user.
func (r *SQLiteTokenRepository) ListActiveByUser(ctx context.Context, userID string) ([]RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, family_id, token_hash, expires_at, revoked, revoked_at, created_at
		 FROM refresh_tokens
		 WHERE user_id = ? AND revoked = 0 AND expires_at > ?
		 ORDER BY created_at DESC`,
		userID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("listing active tokens: %w", err)
	}
	defer rows.Close()

	var tokens []RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning token row: %w", err)
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tokens: %w", err)
	}
	return tokens, nil
}

// DeleteExpired removes entries past their expiry. Returns rows deleted.
// Intended for a periodic maintenance job.
func (r *SQLiteTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ?",
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted tokens: %w", err)
	}
	return n, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRefreshToken scans a ledger row in SELECT column order.
func scanRefreshToken(row rowScanner) (*RefreshToken, error) {
	var t RefreshToken
	var revoked int
	var revokedAt sql.NullString
	var expiresAt, createdAt string

	err := row.Scan(&t.ID, &t.UserID, &t.FamilyID, &t.TokenHash,
		&expiresAt, &revoked, &revokedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	t.Revoked = revoked != 0
	if revokedAt.Valid {
		ts, _ := time.Parse(time.RFC3339, revokedAt.String) //nolint:errcheck // format is controlled
		t.RevokedAt = &ts
	}
	t.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &t, nil
}
