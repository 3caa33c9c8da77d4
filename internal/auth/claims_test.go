package auth

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret-at-least-32-chars-long!!"

func testUser(role Role, fleetID string) *User {
	return &User{
		ID:      "usr-claims01",
		Email:   "claims@example.com",
		Role:    role,
		FleetID: fleetID,
	}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	user := testUser(RoleFleetMgr, "fleet-1")

	token, err := GenerateAccessToken(user, nil, testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}

	if claims.Subject != user.ID {
		t.Errorf("Subject = %q, want %q", claims.Subject, user.ID)
	}
	if claims.UserID != user.ID {
		t.Errorf("UserID = %q, want %q", claims.UserID, user.ID)
	}
	if claims.Role != RoleFleetMgr {
		t.Errorf("Role = %q, want %q", claims.Role, RoleFleetMgr)
	}
	if claims.FleetID == nil || *claims.FleetID != "fleet-1" {
		t.Errorf("FleetID = %v, want fleet-1", claims.FleetID)
	}
	if claims.ID == "" {
		t.Error("jti should be set")
	}
}

func TestAccessToken_NoFleetOmitsFleetID(t *testing.T) {
	token, err := GenerateAccessToken(testUser(RoleAdmin, ""), nil, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	if claims.FleetID != nil {
		t.Errorf("FleetID = %v, want nil", *claims.FleetID)
	}
}

func TestAccessToken_OwnedRegulatorsCarried(t *testing.T) {
	owned := []string{"reg-1", "reg-2"}
	token, err := GenerateAccessToken(testUser(RoleRegOwner, ""), owned, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	if len(claims.OwnedRegulatorIDs) != 2 {
		t.Fatalf("OwnedRegulatorIDs = %v, want 2 entries", claims.OwnedRegulatorIDs)
	}
}

func TestAccessToken_FreshJTIPerIssuance(t *testing.T) {
	user := testUser(RoleAdmin, "")

	t1, _ := GenerateAccessToken(user, nil, testSecret, time.Minute)
	t2, _ := GenerateAccessToken(user, nil, testSecret, time.Minute)

	c1, err := ParseAccessToken(t1, testSecret)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	c2, err := ParseAccessToken(t2, testSecret)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	if c1.ID == c2.ID {
		t.Error("two issuances should have distinct jti values")
	}
}

func TestParseAccessToken_WrongSecret(t *testing.T) {
	token, _ := GenerateAccessToken(testUser(RoleAdmin, ""), nil, testSecret, time.Minute)

	_, err := ParseAccessToken(token, "a-completely-different-32-char-secret")
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("error = %v, want ErrSignatureInvalid", err)
	}
}

func TestParseAccessToken_Expired(t *testing.T) {
	token, _ := GenerateAccessToken(testUser(RoleAdmin, ""), nil, testSecret, -time.Minute)

	_, err := ParseAccessToken(token, testSecret)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
}

func TestParseAccessToken_Malformed(t *testing.T) {
	for _, input := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		if _, err := ParseAccessToken(input, testSecret); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("ParseAccessToken(%q) error = %v, want ErrTokenMalformed", input, err)
		}
	}
}

func TestRefreshToken_RoundTrip(t *testing.T) {
	token, err := GenerateRefreshToken("usr-1", "fam-1", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}

	claims, err := ParseRefreshToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseRefreshToken() error = %v", err)
	}
	if claims.UserID != "usr-1" {
		t.Errorf("UserID = %q, want usr-1", claims.UserID)
	}
	if claims.TokenFamily != "fam-1" {
		t.Errorf("TokenFamily = %q, want fam-1", claims.TokenFamily)
	}
}

func TestParseRefreshToken_RejectsAccessToken(t *testing.T) {
	// An access token parses as a JWT but lacks the tokenFamily claim.
	token, _ := GenerateAccessToken(testUser(RoleAdmin, ""), nil, testSecret, time.Minute)

	_, err := ParseRefreshToken(token, testSecret)
	if !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("error = %v, want ErrTokenMalformed", err)
	}
}

func TestDecodeAccessTokenUnverified(t *testing.T) {
	// Expired tokens still decode: introspection doesn't validate.
	token, _ := GenerateAccessToken(testUser(RoleFleetUser, "fleet-9"), nil, testSecret, -time.Minute)

	claims, err := DecodeAccessTokenUnverified(token)
	if err != nil {
		t.Fatalf("DecodeAccessTokenUnverified() error = %v", err)
	}
	if claims.Role != RoleFleetUser {
		t.Errorf("Role = %q, want %q", claims.Role, RoleFleetUser)
	}

	if _, err := DecodeAccessTokenUnverified("not-a-jwt"); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("error = %v, want ErrTokenMalformed", err)
	}
}
