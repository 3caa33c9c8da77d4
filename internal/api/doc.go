// Package api provides the HTTP REST API and realtime WebSocket hub for
// FleetGate Core.
//
// It exposes the credential lifecycle (login, refresh, logout, password
// flows), fleet and regulator management, and the rental state machine to
// web and mobile clients. Live regulator events fan out over the hub.
//
// The server follows the same lifecycle pattern as the infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
