package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetgate/fleetgate-core/internal/infrastructure/logging"
)

// resetTokenBytes is the size of the random reset token (256-bit).
const resetTokenBytes = 32

// ScopeResolver supplies the regulator IDs a user owns, for embedding in
// access token claims. Implemented by the fleet package.
type ScopeResolver interface {
	OwnedRegulatorIDs(ctx context.Context, userID string) ([]string, error)
}

// ResetMailer delivers password reset links. Implemented by the notify
// package.
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, to, resetURL string) error
}

// ServiceConfig carries the token and reset parameters for the auth service.
type ServiceConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration

	// AppURL is the public base URL used to build password reset links.
	AppURL string
}

// Service orchestrates the credential lifecycle: login, refresh rotation,
// logout, and the password flows.
type Service struct {
	users  UserRepository
	tokens TokenRepository
	resets ResetRepository
	scopes ScopeResolver
	mailer ResetMailer
	cfg    ServiceConfig
	logger *logging.Logger
}

// NewService creates an auth service. scopes and mailer may be nil in
// deployments without regulator ownership or outbound mail; the dependent
// features degrade to empty claims and a logged reset link.
func NewService(users UserRepository, tokens TokenRepository, resets ResetRepository,
	scopes ScopeResolver, mailer ResetMailer, cfg ServiceConfig, logger *logging.Logger,
) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		resets: resets,
		scopes: scopes,
		mailer: mailer,
		cfg:    cfg,
		logger: logger.With("component", "auth"),
	}
}

// Login verifies credentials and issues a fresh token pair in a new
// session family.
//
// Unknown email and wrong password both return ErrInvalidCredentials so
// the response never reveals which accounts exist.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, *User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		s.logger.Warn("login failed", "user_id", user.ID)
		return nil, nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, nil, ErrUserInactive
	}

	pair, err := s.mintPair(ctx, user, "")
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("recording last login failed", "user_id", user.ID, "error", err)
	}
	user.LastLoginAt = &now

	s.logger.Info("login", "user_id", user.ID, "role", string(user.Role))
	return pair, user, nil
}

// Refresh rotates a refresh token and returns a new pair in the same
// session family.
//
// Presenting an already-rotated token is treated as theft: the entire
// family is revoked and ErrTokenReuse is returned. Two concurrent
// refreshes with the same token resolve the same way, exactly one wins.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*TokenPair, error) {
	claims, err := ParseRefreshToken(rawToken, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	entry, err := s.tokens.GetByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("looking up refresh token: %w", err)
	}

	if entry.Revoked {
		s.logger.Warn("refresh token reuse detected", "user_id", entry.UserID, "family_id", entry.FamilyID)
		if err := s.tokens.RevokeFamily(ctx, entry.FamilyID); err != nil {
			return nil, fmt.Errorf("revoking token family: %w", err)
		}
		return nil, ErrTokenReuse
	}

	if time.Now().After(entry.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	if entry.UserID != claims.UserID {
		// Ledger and claims disagree; the token cannot be trusted.
		return nil, ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, entry.UserID)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if !user.IsActive {
		if err := s.tokens.RevokeFamily(ctx, entry.FamilyID); err != nil {
			return nil, fmt.Errorf("revoking token family: %w", err)
		}
		return nil, ErrUserInactive
	}

	newRefresh, err := GenerateRefreshToken(user.ID, entry.FamilyID, s.cfg.JWTSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	successor := &RefreshToken{
		UserID:    user.ID,
		FamilyID:  entry.FamilyID,
		TokenHash: HashToken(newRefresh),
		ExpiresAt: time.Now().Add(s.cfg.RefreshTokenTTL),
	}

	if err := s.tokens.Rotate(ctx, entry.ID, successor); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			// Lost the rotation race, which means the token was used twice.
			s.logger.Warn("concurrent refresh detected", "user_id", entry.UserID, "family_id", entry.FamilyID)
			if revErr := s.tokens.RevokeFamily(ctx, entry.FamilyID); revErr != nil {
				return nil, fmt.Errorf("revoking token family: %w", revErr)
			}
			return nil, ErrTokenReuse
		}
		return nil, fmt.Errorf("rotating refresh token: %w", err)
	}

	access, err := s.mintAccess(ctx, user)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: newRefresh,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// Logout revokes the session behind a refresh token, provided the ledger
// entry belongs to the given user.
//
// Always succeeds from the caller's perspective: an unknown, expired or
// garbage token gets the same nil result as a live one, and so does a
// token owned by someone else, so logout cannot be used to probe which
// tokens exist or to revoke another user's session.
func (s *Service) Logout(ctx context.Context, userID, rawToken string) error {
	entry, err := s.tokens.GetByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil //nolint:nilerr // idempotent, nothing to revoke
	}
	if entry.UserID != userID {
		return nil
	}

	if err := s.tokens.Revoke(ctx, entry.ID); err != nil {
		s.logger.Warn("logout revocation failed", "user_id", entry.UserID, "error", err)
	}
	return nil
}

// LogoutAll revokes every session for a user.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}
	s.logger.Info("all sessions revoked", "user_id", userID)
	return nil
}

// ForgotPassword starts the reset flow for an email address.
//
// Returns nil for unknown addresses too; the caller always reports
// success so the endpoint cannot be used to enumerate accounts. Any
// previously issued, unused reset link is invalidated.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	if err := s.resets.InvalidateForUser(ctx, user.ID); err != nil {
		return err
	}

	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("generating reset token: %w", err)
	}
	raw := hex.EncodeToString(b)

	reset := &PasswordReset{
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		ExpiresAt: time.Now().Add(s.cfg.ResetTokenTTL),
	}
	if err := s.resets.Create(ctx, reset); err != nil {
		return err
	}

	resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.AppURL, raw)
	if s.mailer == nil {
		s.logger.Info("no mailer configured, reset link not sent", "user_id", user.ID)
		return nil
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, resetURL); err != nil {
		return fmt.Errorf("sending reset email: %w", err)
	}

	s.logger.Info("password reset issued", "user_id", user.ID)
	return nil
}

// ResetPassword completes the reset flow with an emailed token.
//
// On success the token is consumed and every session for the user is
// revoked, so a thief holding a stolen refresh token loses it along with
// the old password.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}

	reset, err := s.resets.GetByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return err
	}
	if reset.Used {
		return ErrResetTokenInvalid
	}
	if time.Now().After(reset.ExpiresAt) {
		return ErrResetTokenExpired
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if err := s.resets.MarkUsed(ctx, reset.ID); err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, reset.UserID, hash); err != nil {
		return err
	}
	if err := s.tokens.RevokeAllForUser(ctx, reset.UserID); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}

	s.logger.Info("password reset completed", "user_id", reset.UserID)
	return nil
}

// ChangePassword updates the password for an authenticated user after
// verifying the current one. Existing sessions stay live; the user proved
// possession of the current password, so this is not a recovery event.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	s.logger.Info("password changed", "user_id", userID)
	return nil
}

// ValidateAccessToken parses and verifies an access token for middleware.
func (s *Service) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	return ParseAccessToken(tokenString, s.cfg.JWTSecret)
}

// mintPair issues an access token and a refresh token. An empty familyID
// starts a new session family.
func (s *Service) mintPair(ctx context.Context, user *User, familyID string) (*TokenPair, error) {
	refresh, err := GenerateRefreshToken(user.ID, orNewFamily(familyID), s.cfg.JWTSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	claims, err := ParseRefreshToken(refresh, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	entry := &RefreshToken{
		UserID:    user.ID,
		FamilyID:  claims.TokenFamily,
		TokenHash: HashToken(refresh),
		ExpiresAt: time.Now().Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.tokens.Create(ctx, entry); err != nil {
		return nil, err
	}

	access, err := s.mintAccess(ctx, user)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// mintAccess issues an access token with the user's current scope.
func (s *Service) mintAccess(ctx context.Context, user *User) (string, error) {
	var owned []string
	if s.scopes != nil && TierOf(user.Role) == TierOwner {
		ids, err := s.scopes.OwnedRegulatorIDs(ctx, user.ID)
		if err != nil {
			return "", fmt.Errorf("resolving owned regulators: %w", err)
		}
		owned = ids
	}
	return GenerateAccessToken(user, owned, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
}

// orNewFamily returns familyID, or a fresh UUID when empty.
func orNewFamily(familyID string) string {
	if familyID != "" {
		return familyID
	}
	return uuid.NewString()
}
