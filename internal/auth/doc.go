// Package auth implements authentication and authorisation for FleetGate
// Core.
//
// It covers the full credential lifecycle: login with argon2id password
// verification, short-lived JWT access tokens, refresh token rotation with
// family-wide revocation on reuse, password reset flows, and the pure
// authorisation predicates the API and realtime layers gate on.
//
// Access tokens are validated by signature alone. Refresh tokens are JWTs
// too, but each use is checked against the session ledger (refresh_tokens
// table) so a stolen token can be cut off server-side. Rotation marks the
// presented token revoked and issues a successor in the same family; a
// second presentation of a rotated token revokes the entire family.
//
// Authorisation is claims-driven: the predicates in authz.go inspect only
// the token claims plus the resource's fleet/owner scope, never the
// database, so they are safe to call from hot paths.
package auth
