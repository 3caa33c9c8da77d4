// Package config handles loading and validating FleetGate Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (FLEETGATE_* prefix)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (JWT secret, broker passwords, API keys) should be
//     set via environment variables, never committed in config files
//   - JWT secrets must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Port)
package config
