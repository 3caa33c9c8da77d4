package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetgate/fleetgate-core/internal/auth"
)

// createUserRequest is the request body for POST /users.
type createUserRequest struct {
	Email       string    `json:"email"`
	Password    string    `json:"password"`
	Role        auth.Role `json:"role"`
	FleetID     string    `json:"fleet_id"`
	DisplayName string    `json:"display_name"`
}

// updateUserRequest is the request body for PATCH /users/{id}.
// Pointer fields distinguish "not sent" from "set to zero value".
type updateUserRequest struct {
	DisplayName *string    `json:"display_name"`
	Role        *auth.Role `json:"role"`
	FleetID     *string    `json:"fleet_id"`
	IsActive    *bool      `json:"is_active"`
}

// handleListUsers returns the accounts visible to the caller: every
// account for system-tier roles, the caller's fleet for fleet managers.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var (
		users []auth.User
		err   error
	)
	switch {
	case auth.TierOf(claims.Role) == auth.TierSystem:
		users, err = s.users.List(r.Context())
	case claims.Role == auth.RoleFleetMgr || claims.Role == auth.RoleSubFleetMgr:
		if claims.FleetID == nil {
			writeForbidden(w, "no fleet on account")
			return
		}
		users, err = s.users.ListByFleet(r.Context(), *claims.FleetID)
	default:
		writeForbidden(w, "insufficient role")
		return
	}
	if err != nil {
		s.logger.Error("listing users failed", "error", err)
		writeInternalError(w, "could not list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

// handleCreateUser creates an account. The caller must be allowed to
// manage accounts of the requested role and fleet.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if !auth.IsValidEmail(req.Email) {
		writeValidationError(w, "a valid email address is required")
		return
	}
	if !auth.IsValidRole(req.Role) {
		writeValidationError(w, "unknown role")
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if !auth.CanManageUser(claims, req.Role, req.FleetID) {
		writeForbidden(w, "cannot create accounts with this role")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hashing password failed", "error", err)
		writeInternalError(w, "could not create user")
		return
	}

	user := &auth.User{
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		FleetID:      req.FleetID,
		DisplayName:  req.DisplayName,
		IsActive:     true,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeConflict(w, "email already registered")
			return
		}
		s.logger.Error("creating user failed", "error", err)
		writeInternalError(w, "could not create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "role", string(user.Role), "by", claims.UserID)
	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns one account. Callers may always read their own.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := chi.URLParam(r, "id")

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("getting user failed", "user_id", id, "error", err)
		writeInternalError(w, "could not load user")
		return
	}

	if claims.UserID != user.ID && !auth.CanManageUser(claims, user.Role, user.FleetID) {
		writeForbidden(w, "cannot view this account")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser applies a partial update to an account. Authority is
// checked against both the account's current role and any requested one,
// so a fleet manager cannot promote a fleet user into an admin.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := chi.URLParam(r, "id")

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("getting user failed", "user_id", id, "error", err)
		writeInternalError(w, "could not load user")
		return
	}

	if !auth.CanManageUser(claims, user.Role, user.FleetID) {
		writeForbidden(w, "cannot manage this account")
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.Role != nil {
		if !auth.IsValidRole(*req.Role) {
			writeValidationError(w, "unknown role")
			return
		}
		user.Role = *req.Role
	}
	if req.FleetID != nil {
		user.FleetID = *req.FleetID
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if !auth.CanManageUser(claims, user.Role, user.FleetID) {
		writeForbidden(w, "cannot assign this role")
		return
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		s.logger.Error("updating user failed", "user_id", id, "error", err)
		writeInternalError(w, "could not update user")
		return
	}

	s.logger.Info("user updated", "user_id", id, "by", claims.UserID)
	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes an account and revokes its sessions.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := chi.URLParam(r, "id")

	if claims.UserID == id {
		writeBadRequest(w, "cannot delete your own account")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("getting user failed", "user_id", id, "error", err)
		writeInternalError(w, "could not load user")
		return
	}

	if !auth.CanManageUser(claims, user.Role, user.FleetID) {
		writeForbidden(w, "cannot manage this account")
		return
	}

	if err := s.auth.LogoutAll(r.Context(), id); err != nil {
		s.logger.Warn("revoking sessions for deleted user failed", "user_id", id, "error", err)
	}
	if err := s.users.Delete(r.Context(), id); err != nil {
		s.logger.Error("deleting user failed", "user_id", id, "error", err)
		writeInternalError(w, "could not delete user")
		return
	}

	s.logger.Info("user deleted", "user_id", id, "by", claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}
