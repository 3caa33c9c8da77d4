package auth

// Authorisation predicates.
//
// Every predicate is a pure function over token claims plus the resource's
// scope. No database access, no clock, no side effects: given the same
// inputs they always answer the same way, which keeps them trivially
// testable and safe to call per-message on the realtime path.

// CanAccessFleet reports whether the caller may read a fleet and its
// regulators, rentals and members.
func CanAccessFleet(claims *AccessClaims, fleetID string) bool {
	if claims == nil || fleetID == "" {
		return false
	}

	switch TierOf(claims.Role) {
	case TierSystem:
		return true
	case TierFleet:
		return claims.FleetID != nil && *claims.FleetID == fleetID
	default:
		return false
	}
}

// CanAccessRegulator reports whether the caller may read a regulator.
// regFleetID is the fleet the regulator belongs to ("" if unassigned) and
// regOwnerID is its individual owner ("" if fleet-owned).
func CanAccessRegulator(claims *AccessClaims, regFleetID, regOwnerID string) bool {
	if claims == nil {
		return false
	}

	switch TierOf(claims.Role) {
	case TierSystem:
		return true
	case TierFleet:
		return regFleetID != "" && claims.FleetID != nil && *claims.FleetID == regFleetID
	case TierOwner:
		return regOwnerID != "" && regOwnerID == claims.UserID
	default:
		return false
	}
}

// OwnsRegulator reports whether the regulator ID appears in the caller's
// owned set. Used for channel subscriptions where only the regulator ID is
// known.
func OwnsRegulator(claims *AccessClaims, regulatorID string) bool {
	if claims == nil || regulatorID == "" {
		return false
	}
	for _, id := range claims.OwnedRegulatorIDs {
		if id == regulatorID {
			return true
		}
	}
	return false
}

// CanManageUser reports whether the caller may create, modify or disable
// an account with the target role and fleet.
//
// System-tier roles manage everyone. Fleet managers manage fleet users
// and sub-managers within their own fleet. Nobody else manages accounts,
// so a fleet manager can never reach an ADMIN, SUB_ADMIN or another
// FLEET_MGR.
func CanManageUser(claims *AccessClaims, targetRole Role, targetFleetID string) bool {
	if claims == nil || !IsValidRole(targetRole) {
		return false
	}

	if TierOf(claims.Role) == TierSystem {
		return true
	}
	if claims.Role != RoleFleetMgr {
		return false
	}
	if claims.FleetID == nil || *claims.FleetID != targetFleetID {
		return false
	}
	return targetRole == RoleFleetUser || targetRole == RoleSubFleetMgr
}
