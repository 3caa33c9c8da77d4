package auth

import (
	"errors"
	"net/mail"
	"time"
)

// maxEmailLength caps stored email addresses.
const maxEmailLength = 254

// IsValidEmail checks if an address parses as RFC 5322 and fits storage limits.
func IsValidEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Role represents an authorisation role in the system.
type Role string

const (
	// RoleAdmin has full platform control: fleets, regulators, users,
	// settings. Bypasses fleet scoping.
	RoleAdmin Role = "ADMIN"

	// RoleSubAdmin shares the admin's system-wide authority.
	RoleSubAdmin Role = "SUB_ADMIN"

	// RoleFleetMgr manages a single fleet: its regulators, its rentals,
	// and its fleet-level user accounts.
	RoleFleetMgr Role = "FLEET_MGR"

	// RoleSubFleetMgr is a fleet manager's delegate within the same fleet.
	RoleSubFleetMgr Role = "SUB_FLEET_MGR"

	// RoleFleetUser is a member of a fleet who can rent that fleet's
	// regulators.
	RoleFleetUser Role = "FLEET_USER"

	// RoleRegOwner owns individual regulators outside any fleet and is
	// scoped to exactly those units.
	RoleRegOwner Role = "REG_OWNER"

	// RoleOnboarding is a provisional account that has not completed
	// signup. No fleet and no regulator access.
	RoleOnboarding Role = "ONBOARDING"

	// RoleUnitTester is a service account for hardware test rigs.
	RoleUnitTester Role = "UNIT_TESTER"
)

// Tier groups roles by the scope their authority derives from.
type Tier string

const (
	// TierSystem roles see across all fleets.
	TierSystem Tier = "system"

	// TierFleet roles are scoped to the single fleet on their account.
	TierFleet Tier = "fleet"

	// TierOwner roles are scoped to the regulators they own.
	TierOwner Tier = "owner"

	// TierNone roles have no data scope at all.
	TierNone Tier = "none"
)

// roleTiers maps every valid role to its tier. A role absent from this
// map is invalid.
var roleTiers = map[Role]Tier{
	RoleAdmin:       TierSystem,
	RoleSubAdmin:    TierSystem,
	RoleFleetMgr:    TierFleet,
	RoleSubFleetMgr: TierFleet,
	RoleFleetUser:   TierFleet,
	RoleRegOwner:    TierOwner,
	RoleOnboarding:  TierNone,
	RoleUnitTester:  TierNone,
}

// TierOf returns the tier for a role, or TierNone for unknown roles.
// Unknown roles deliberately collapse to the least-privileged tier.
func TierOf(r Role) Tier {
	if t, ok := roleTiers[r]; ok {
		return t
	}
	return TierNone
}

// IsValidRole returns true if the role is one of the defined roles.
func IsValidRole(r Role) bool {
	_, ok := roleTiers[r]
	return ok
}

// User represents an account on the platform.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never serialised
	Role         Role       `json:"role"`
	FleetID      string     `json:"fleet_id,omitempty"`
	DisplayName  string     `json:"display_name"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RefreshToken represents one entry in the session ledger. The raw token
// never touches the database; only its SHA-256 hash is stored.
type RefreshToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	FamilyID  string     `json:"family_id"`
	TokenHash string     `json:"-"` // never serialised
	ExpiresAt time.Time  `json:"expires_at"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// PasswordReset represents a pending password reset request.
type PasswordReset struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"` // never serialised
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is the credential set handed to a client after login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}

// Sentinel errors for authentication and authorisation operations.
var (
	// ErrInvalidCredentials is returned on login failure. The same error
	// covers unknown email and wrong password so responses don't reveal
	// which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound is returned when a user lookup finds no row.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when creating a user with a taken email.
	ErrUserExists = errors.New("user already exists")

	// ErrUserInactive is returned when a disabled account attempts login.
	ErrUserInactive = errors.New("user account is inactive")

	// ErrTokenExpired is returned for a structurally valid, correctly
	// signed token whose expiry has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenMalformed is returned when a token is not a parseable JWT.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrSignatureInvalid is returned when a token's signature does not
	// verify against the service secret.
	ErrSignatureInvalid = errors.New("token signature invalid")

	// ErrTokenInvalid is returned for tokens that fail validation for a
	// reason not covered by a more specific sentinel.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenNotFound is returned when a refresh token hash has no ledger
	// entry.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenRevoked is returned when a refresh token's ledger entry is
	// marked revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrTokenReuse is returned when a previously rotated refresh token is
	// presented again. The whole family is revoked when this happens.
	ErrTokenReuse = errors.New("refresh token reuse detected")

	// ErrForbidden is returned when an authenticated caller lacks authority
	// for the requested resource or action.
	ErrForbidden = errors.New("forbidden")

	// ErrWeakPassword is returned when a password fails the strength policy.
	ErrWeakPassword = errors.New("password does not meet strength requirements")

	// ErrResetTokenInvalid is returned for an unknown or already consumed
	// password reset token.
	ErrResetTokenInvalid = errors.New("reset token invalid")

	// ErrResetTokenExpired is returned for a reset token past its expiry.
	ErrResetTokenExpired = errors.New("reset token expired")
)
