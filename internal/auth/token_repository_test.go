package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedToken(t *testing.T, repo TokenRepository, userID, raw string) *RefreshToken {
	t.Helper()

	token := &RefreshToken{
		UserID:    userID,
		TokenHash: HashToken(raw),
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
	if err := repo.Create(t.Context(), token); err != nil {
		t.Fatalf("creating token: %v", err)
	}
	return token
}

func TestTokenRepository_CreateAndGet(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "token@example.com", RoleFleetUser)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	token := seedToken(t, repo, user.ID, "raw-refresh-token")

	if token.ID == "" {
		t.Fatal("Create() should generate an ID")
	}
	if token.FamilyID == "" {
		t.Fatal("Create() should generate a FamilyID")
	}

	got, err := repo.GetByID(ctx, token.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.UserID != user.ID {
		t.Errorf("UserID = %q, want %q", got.UserID, user.ID)
	}
	if got.Revoked {
		t.Error("new token should not be revoked")
	}
	if got.RevokedAt != nil {
		t.Error("new token should have no revoked_at")
	}

	byHash, err := repo.GetByTokenHash(ctx, HashToken("raw-refresh-token"))
	if err != nil {
		t.Fatalf("GetByTokenHash() error = %v", err)
	}
	if byHash.ID != token.ID {
		t.Errorf("GetByTokenHash() ID = %q, want %q", byHash.ID, token.ID)
	}
}

func TestTokenRepository_GetMissing(t *testing.T) {
	db := testDB(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	if _, err := repo.GetByID(ctx, "rt-missing"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("GetByID() error = %v, want ErrTokenNotFound", err)
	}
	if _, err := repo.GetByTokenHash(ctx, HashToken("nope")); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("GetByTokenHash() error = %v, want ErrTokenNotFound", err)
	}
}

func TestTokenRepository_Revoke(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "revoke@example.com", RoleFleetUser)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	token := seedToken(t, repo, user.ID, "revoke-me")

	if err := repo.Revoke(ctx, token.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	got, err := repo.GetByID(ctx, token.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.Revoked {
		t.Error("token should be revoked")
	}
	if got.RevokedAt == nil {
		t.Error("revoked_at should be set")
	}
}

func TestTokenRepository_Rotate(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "rotate@example.com", RoleFleetUser)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	old := seedToken(t, repo, user.ID, "original")

	successor := &RefreshToken{
		UserID:    user.ID,
		FamilyID:  old.FamilyID,
		TokenHash: HashToken("successor"),
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
	if err := repo.Rotate(ctx, old.ID, successor); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	rotated, err := repo.GetByID(ctx, old.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !rotated.Revoked {
		t.Error("rotated token should be revoked")
	}

	next, err := repo.GetByTokenHash(ctx, HashToken("successor"))
	if err != nil {
		t.Fatalf("GetByTokenHash() error = %v", err)
	}
	if next.FamilyID != old.FamilyID {
		t.Errorf("successor FamilyID = %q, want %q", next.FamilyID, old.FamilyID)
	}
	if next.Revoked {
		t.Error("successor should be live")
	}
}

func TestTokenRepository_RotateTwiceFails(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "rotate2@example.com", RoleFleetUser)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	old := seedToken(t, repo, user.ID, "contested")

	mkSuccessor := func(raw string) *RefreshToken {
		return &RefreshToken{
			UserID:    user.ID,
			FamilyID:  old.FamilyID,
			TokenHash: HashToken(raw),
			ExpiresAt: time.Now().Add(time.Hour),
		}
	}

	if err := repo.Rotate(ctx, old.ID, mkSuccessor("winner")); err != nil {
		t.Fatalf("first Rotate() error = %v", err)
	}

	// The second rotation of the same token must lose.
	err := repo.Rotate(ctx, old.ID, mkSuccessor("loser"))
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("second Rotate() error = %v, want ErrTokenRevoked", err)
	}

	// The loser's successor must not exist.
	if _, err := repo.GetByTokenHash(ctx, HashToken("loser")); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("loser successor lookup error = %v, want ErrTokenNotFound", err)
	}
}

func TestTokenRepository_RevokeFamily(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "family@example.com", RoleFleetUser)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	first := seedToken(t, repo, user.ID, "fam-a-1")
	second := &RefreshToken{
		UserID:    user.ID,
		FamilyID:  first.FamilyID,
		TokenHash: HashToken("fam-a-2"),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := repo.Create(ctx, second); err != nil {
		t.Fatalf("creating second token: %v", err)
	}
	other := seedToken(t, repo, user.ID, "fam-b-1")

	if err := repo.RevokeFamily(ctx, first.FamilyID); err != nil {
		t.Fatalf("RevokeFamily() error = %v", err)
	}

	for _, id := range []string{first.ID, second.ID} {
		got, err := repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		if !got.Revoked {
			t.Errorf("token %s should be revoked", id)
		}
	}

	survivor, err := repo.GetByID(ctx, other.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if survivor.Revoked {
		t.Error("other family should be untouched")
	}
}

func TestTokenRepository_RevokeAllForUser(t *testing.T) {
	db := testDB(t)
	alice := seedTestUser(t, db, "alice@example.com", RoleFleetUser)
	bob := seedTestUser(t, db, "bob@example.com", RoleFleetUser)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	seedToken(t, repo, alice.ID, "alice-1")
	seedToken(t, repo, alice.ID, "alice-2")
	bobToken := seedToken(t, repo, bob.ID, "bob-1")

	if err := repo.RevokeAllForUser(ctx, alice.ID); err != nil {
		t.Fatalf("RevokeAllForUser() error = %v", err)
	}

	active, err := repo.ListActiveByUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListActiveByUser() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("alice active tokens = %d, want 0", len(active))
	}

	got, err := repo.GetByID(ctx, bobToken.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Revoked {
		t.Error("bob's token should be untouched")
	}
}

func TestTokenRepository_DeleteExpired(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "expired@example.com", RoleFleetUser)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	stale := &RefreshToken{
		UserID:    user.ID,
		TokenHash: HashToken("stale"),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	if err := repo.Create(ctx, stale); err != nil {
		t.Fatalf("creating stale token: %v", err)
	}
	live := seedToken(t, repo, user.ID, "live")

	n, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}

	if _, err := repo.GetByID(ctx, live.ID); err != nil {
		t.Errorf("live token should survive: %v", err)
	}
}
