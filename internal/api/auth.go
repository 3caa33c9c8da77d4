package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fleetgate/fleetgate-core/internal/auth"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse is the response body for login and refresh.
type tokenResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	User         *auth.User `json:"user,omitempty"`
}

// refreshRequest is the request body for POST /auth/refresh and logout.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleLogin authenticates a user and returns a token pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	pair, user, err := s.auth.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, "invalid credentials")
		return
	case errors.Is(err, auth.ErrUserInactive):
		writeForbidden(w, "account is inactive")
		return
	case err != nil:
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		User:         user,
	})
}

// handleRefresh rotates a refresh token and returns a new pair.
//
// Reuse of an already-rotated token revokes the whole session family
// inside the service; the response is the same 401 either way.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if isTokenError(err) {
			writeUnauthorized(w, "invalid or expired refresh token")
			return
		}
		s.logger.Error("refresh failed", "error", err)
		writeInternalError(w, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	})
}

// isTokenError reports whether err is a client-side token problem rather
// than a server fault.
func isTokenError(err error) bool {
	return errors.Is(err, auth.ErrTokenExpired) ||
		errors.Is(err, auth.ErrTokenMalformed) ||
		errors.Is(err, auth.ErrSignatureInvalid) ||
		errors.Is(err, auth.ErrTokenInvalid) ||
		errors.Is(err, auth.ErrTokenReuse) ||
		errors.Is(err, auth.ErrUserInactive)
}

// handleLogout revokes the presented refresh token if it belongs to the
// authenticated caller. Always returns 204; an unknown token or one owned
// by somebody else has nothing to revoke and the result is the same.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.auth.Logout(r.Context(), claims.UserID, req.RefreshToken); err != nil {
		s.logger.Error("logout failed", "error", err)
		writeInternalError(w, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogoutAll revokes every session for the authenticated user.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	if err := s.auth.LogoutAll(r.Context(), claims.UserID); err != nil {
		s.logger.Error("logout-all failed", "user_id", claims.UserID, "error", err)
		writeInternalError(w, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// forgotPasswordRequest is the request body for POST /auth/forgot-password.
type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword starts the password reset flow. The response is
// identical whether or not the address has an account.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !auth.IsValidEmail(req.Email) {
		writeBadRequest(w, "a valid email address is required")
		return
	}

	if err := s.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		s.logger.Error("forgot-password failed", "error", err)
		writeInternalError(w, "could not process request")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "if the address has an account, a reset link has been sent",
	})
}

// resetPasswordRequest is the request body for POST /auth/reset-password.
type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// handleResetPassword completes the reset flow with an emailed token.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		writeBadRequest(w, "token and new_password are required")
		return
	}

	err := s.auth.ResetPassword(r.Context(), req.Token, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrWeakPassword):
		writeValidationError(w, err.Error())
		return
	case errors.Is(err, auth.ErrResetTokenInvalid), errors.Is(err, auth.ErrResetTokenExpired):
		writeBadRequest(w, "reset link is invalid or has expired")
		return
	case err != nil:
		s.logger.Error("reset-password failed", "error", err)
		writeInternalError(w, "could not reset password")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// changePasswordRequest is the request body for POST /auth/change-password.
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleChangePassword updates the password for the authenticated user.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.auth.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, "current password is incorrect")
		return
	case errors.Is(err, auth.ErrWeakPassword):
		writeValidationError(w, err.Error())
		return
	case err != nil:
		s.logger.Error("change-password failed", "user_id", claims.UserID, "error", err)
		writeInternalError(w, "could not change password")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the authenticated user's profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	user, err := s.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("profile lookup failed", "user_id", claims.UserID, "error", err)
		writeInternalError(w, "could not load profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
