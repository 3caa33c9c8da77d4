// Package database provides SQLite connection management and embedded
// migrations for FleetGate Core.
//
// The database is opened with WAL mode and a single writer connection.
// Migration files are embedded into the binary by the migrations package
// and applied in version order, one transaction per migration.
package database
