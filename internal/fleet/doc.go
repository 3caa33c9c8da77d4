// Package fleet manages the regulator inventory: fleets, individual
// units, and the rental ledger.
//
// Checkout and check-in run through the Service, which enforces the
// availability state machine and announces transitions to the realtime
// hub. The package also resolves regulator authorisation scope for the
// auth and realtime layers.
package fleet
