package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetgate/fleetgate-core/internal/auth"
	"github.com/fleetgate/fleetgate-core/internal/fleet"
)

// createFleetRequest is the request body for POST /fleets.
type createFleetRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// createRegulatorRequest is the request body for POST /regulators.
// A unit belongs to a fleet or an owner, never both.
type createRegulatorRequest struct {
	SerialNumber string `json:"serial_number"`
	FleetID      string `json:"fleet_id"`
	OwnerUserID  string `json:"owner_user_id"`
}

// setStatusRequest is the request body for PUT /regulators/{id}/status.
type setStatusRequest struct {
	Status fleet.RegulatorStatus `json:"status"`
}

// handleListFleets returns the fleets visible to the caller.
func (s *Server) handleListFleets(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	if auth.TierOf(claims.Role) == auth.TierSystem {
		fleets, err := s.fleets.ListFleets(r.Context())
		if err != nil {
			s.logger.Error("listing fleets failed", "error", err)
			writeInternalError(w, "could not list fleets")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fleets": fleets, "count": len(fleets)})
		return
	}

	// Fleet-tier callers see exactly their own fleet.
	if claims.FleetID == nil {
		writeJSON(w, http.StatusOK, map[string]any{"fleets": []fleet.Fleet{}, "count": 0})
		return
	}
	f, err := s.fleets.GetFleet(r.Context(), *claims.FleetID)
	if err != nil {
		if errors.Is(err, fleet.ErrFleetNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"fleets": []fleet.Fleet{}, "count": 0})
			return
		}
		s.logger.Error("getting fleet failed", "fleet_id", *claims.FleetID, "error", err)
		writeInternalError(w, "could not list fleets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fleets": []fleet.Fleet{*f}, "count": 1})
}

// handleCreateFleet creates a fleet. Restricted to system roles by the router.
func (s *Server) handleCreateFleet(w http.ResponseWriter, r *http.Request) {
	var req createFleetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeValidationError(w, "name is required")
		return
	}

	f := &fleet.Fleet{Name: req.Name, Description: req.Description}
	if err := s.fleets.CreateFleet(r.Context(), f); err != nil {
		s.logger.Error("creating fleet failed", "error", err)
		writeInternalError(w, "could not create fleet")
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// handleGetFleet returns one fleet, gated by the fleet access predicate.
func (s *Server) handleGetFleet(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := chi.URLParam(r, "id")

	if !auth.CanAccessFleet(claims, id) {
		writeForbidden(w, "cannot access this fleet")
		return
	}

	f, err := s.fleets.GetFleet(r.Context(), id)
	if err != nil {
		if errors.Is(err, fleet.ErrFleetNotFound) {
			writeNotFound(w, "fleet not found")
			return
		}
		s.logger.Error("getting fleet failed", "fleet_id", id, "error", err)
		writeInternalError(w, "could not load fleet")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handleListRegulators returns the regulators visible to the caller:
// everything for system roles, the account fleet for fleet roles, owned
// units for owners.
func (s *Server) handleListRegulators(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var (
		regs []fleet.Regulator
		err  error
	)
	switch auth.TierOf(claims.Role) {
	case auth.TierSystem:
		regs, err = s.fleets.ListRegulators(r.Context())
	case auth.TierFleet:
		if claims.FleetID == nil {
			writeForbidden(w, "no fleet on account")
			return
		}
		regs, err = s.fleets.ListRegulatorsByFleet(r.Context(), *claims.FleetID)
	case auth.TierOwner:
		regs, err = s.fleets.ListRegulatorsByOwner(r.Context(), claims.UserID)
	default:
		writeForbidden(w, "insufficient role")
		return
	}
	if err != nil {
		s.logger.Error("listing regulators failed", "error", err)
		writeInternalError(w, "could not list regulators")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"regulators": regs, "count": len(regs)})
}

// handleCreateRegulator registers a unit. Restricted to system roles by
// the router.
func (s *Server) handleCreateRegulator(w http.ResponseWriter, r *http.Request) {
	var req createRegulatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SerialNumber == "" {
		writeValidationError(w, "serial_number is required")
		return
	}
	if req.FleetID != "" && req.OwnerUserID != "" {
		writeValidationError(w, "a regulator belongs to a fleet or an owner, not both")
		return
	}

	reg := &fleet.Regulator{
		SerialNumber: req.SerialNumber,
		FleetID:      req.FleetID,
		OwnerUserID:  req.OwnerUserID,
		Status:       fleet.StatusAvailable,
	}
	if err := s.fleets.CreateRegulator(r.Context(), reg); err != nil {
		if errors.Is(err, fleet.ErrRegulatorExists) {
			writeConflict(w, "serial number already registered")
			return
		}
		s.logger.Error("creating regulator failed", "error", err)
		writeInternalError(w, "could not create regulator")
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// getScopedRegulator loads a regulator and enforces the access predicate.
// A nil return means the response has already been written.
func (s *Server) getScopedRegulator(w http.ResponseWriter, r *http.Request) *fleet.Regulator {
	claims := claimsFrom(r.Context())
	id := chi.URLParam(r, "id")

	reg, err := s.fleets.GetRegulator(r.Context(), id)
	if err != nil {
		if errors.Is(err, fleet.ErrRegulatorNotFound) {
			writeNotFound(w, "regulator not found")
			return nil
		}
		s.logger.Error("getting regulator failed", "regulator_id", id, "error", err)
		writeInternalError(w, "could not load regulator")
		return nil
	}

	if !auth.CanAccessRegulator(claims, reg.FleetID, reg.OwnerUserID) {
		writeForbidden(w, "cannot access this regulator")
		return nil
	}
	return reg
}

// handleGetRegulator returns one regulator.
func (s *Server) handleGetRegulator(w http.ResponseWriter, r *http.Request) {
	if reg := s.getScopedRegulator(w, r); reg != nil {
		writeJSON(w, http.StatusOK, reg)
	}
}

// handleCheckout opens a rental of the regulator for the caller.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	reg := s.getScopedRegulator(w, r)
	if reg == nil {
		return
	}

	rental, err := s.fleetSvc.Checkout(r.Context(), reg.ID, claims.UserID)
	if err != nil {
		if errors.Is(err, fleet.ErrNotAvailable) {
			writeConflict(w, "regulator is not available")
			return
		}
		s.logger.Error("checkout failed", "regulator_id", reg.ID, "error", err)
		writeInternalError(w, "could not check out regulator")
		return
	}
	writeJSON(w, http.StatusCreated, rental)
}

// handleCheckin closes the open rental on the regulator.
func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	reg := s.getScopedRegulator(w, r)
	if reg == nil {
		return
	}

	rental, err := s.fleetSvc.Checkin(r.Context(), reg.ID)
	if err != nil {
		if errors.Is(err, fleet.ErrNotCheckedOut) {
			writeConflict(w, "regulator is not checked out")
			return
		}
		s.logger.Error("checkin failed", "regulator_id", reg.ID, "error", err)
		writeInternalError(w, "could not check in regulator")
		return
	}
	writeJSON(w, http.StatusOK, rental)
}

// handleSetStatus moves a regulator between non-rental states. Plain
// fleet members cannot pull units from circulation; that is reserved for
// managers, system roles, and the unit's owner.
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	reg := s.getScopedRegulator(w, r)
	if reg == nil {
		return
	}

	if !canManageRegulatorStatus(claims, reg) {
		writeForbidden(w, "cannot change this regulator's status")
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.fleetSvc.SetStatus(r.Context(), reg.ID, req.Status); err != nil {
		if errors.Is(err, fleet.ErrInvalidStatus) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("status change failed", "regulator_id", reg.ID, "error", err)
		writeInternalError(w, "could not change status")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// canManageRegulatorStatus reports whether the caller may change a
// unit's operational status.
func canManageRegulatorStatus(claims *auth.AccessClaims, reg *fleet.Regulator) bool {
	switch {
	case auth.TierOf(claims.Role) == auth.TierSystem:
		return true
	case claims.Role == auth.RoleFleetMgr || claims.Role == auth.RoleSubFleetMgr:
		return claims.FleetID != nil && *claims.FleetID == reg.FleetID
	case claims.Role == auth.RoleRegOwner:
		return reg.OwnerUserID == claims.UserID
	}
	return false
}

// handleRegulatorRentals returns the rental history of a regulator.
func (s *Server) handleRegulatorRentals(w http.ResponseWriter, r *http.Request) {
	reg := s.getScopedRegulator(w, r)
	if reg == nil {
		return
	}

	rentals, err := s.fleets.ListRentalsByRegulator(r.Context(), reg.ID)
	if err != nil {
		s.logger.Error("listing rentals failed", "regulator_id", reg.ID, "error", err)
		writeInternalError(w, "could not list rentals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rentals": rentals, "count": len(rentals)})
}

// handleMyRentals returns the caller's rental history.
func (s *Server) handleMyRentals(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	rentals, err := s.fleets.ListRentalsByUser(r.Context(), claims.UserID)
	if err != nil {
		s.logger.Error("listing rentals failed", "user_id", claims.UserID, "error", err)
		writeInternalError(w, "could not list rentals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rentals": rentals, "count": len(rentals)})
}

// handleRegulatorTelemetry reads a regulator's recent telemetry from the
// time-series store. `minutes` selects the window (default 60).
func (s *Server) handleRegulatorTelemetry(w http.ResponseWriter, r *http.Request) {
	reg := s.getScopedRegulator(w, r)
	if reg == nil {
		return
	}

	if s.telemetry == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "telemetry store is not configured")
		return
	}

	window := time.Hour
	if v := r.URL.Query().Get("minutes"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			writeBadRequest(w, "minutes must be a positive integer")
			return
		}
		window = time.Duration(minutes) * time.Minute
	}

	rows, err := s.telemetry.QueryRecentTelemetry(r.Context(), reg.ID, window)
	if err != nil {
		s.logger.Error("telemetry query failed", "regulator_id", reg.ID, "error", err)
		writeInternalError(w, "could not query telemetry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regulator_id": reg.ID, "rows": rows, "count": len(rows)})
}
