package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims extends JWT standard claims with FleetGate-specific fields.
// The access token is the sole authorisation input for API and realtime
// requests; everything the predicates need rides in here.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID            string   `json:"userId"`
	Role              Role     `json:"role"`
	FleetID           *string  `json:"fleetId"`
	OwnedRegulatorIDs []string `json:"ownedRegulatorIds,omitempty"`
}

// RefreshClaims carries the session family through a refresh token.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID      string `json:"userId"`
	TokenFamily string `json:"tokenFamily"`
}

// GenerateAccessToken creates a signed JWT access token for a user.
// Access tokens are short-lived and validated by signature only (no DB hit).
// The jti is a fresh UUID per issuance so two tokens minted in the same
// second still differ.
func GenerateAccessToken(user *User, ownedRegulatorIDs []string, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	var fleetID *string
	if user.FleetID != "" {
		fleetID = &user.FleetID
	}

	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID:            user.ID,
		Role:              user.Role,
		FleetID:           fleetID,
		OwnedRegulatorIDs: ownedRegulatorIDs,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// GenerateRefreshToken creates a signed JWT refresh token bound to a token
// family. The raw token goes to the client; only its SHA-256 hash is stored
// in the session ledger.
func GenerateRefreshToken(userID, familyID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID:      userID,
		TokenFamily: familyID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing refresh token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates and parses a JWT access token.
// It checks the signature, expiry, and required fields, mapping library
// failures onto the package sentinels so callers can errors.Is on them.
func ParseAccessToken(tokenString, secret string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, classifyJWTError(err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	if claims.Role == "" {
		return nil, fmt.Errorf("%w: missing role", ErrTokenMalformed)
	}

	return claims, nil
}

// ParseRefreshToken validates and parses a JWT refresh token.
// A passing parse only proves the token was minted by this service and has
// not expired; the session ledger decides whether it is still live.
func ParseRefreshToken(tokenString, secret string) (*RefreshClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, classifyJWTError(err)
	}

	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" || claims.TokenFamily == "" {
		return nil, fmt.Errorf("%w: missing required claims", ErrTokenMalformed)
	}

	return claims, nil
}

// DecodeAccessTokenUnverified decodes an access token's claims WITHOUT
// verifying the signature or expiry. For introspection and diagnostics
// only. Output from this function must never feed an authorisation
// decision.
func DecodeAccessTokenUnverified(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
	return claims, nil
}

// classifyJWTError maps golang-jwt parse errors onto the package sentinels.
// Expiry is distinguished from signature and structural failures because
// callers treat an expired-but-genuine token differently from garbage.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
}
