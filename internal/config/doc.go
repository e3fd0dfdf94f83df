// Package config loads keyledger configuration.
//
// Values are resolved in this order, later sources winning:
//
//  1. Default() values
//  2. A YAML file (KEYLEDGER_CONFIG, or config.yaml / configs/config.yaml)
//  3. Environment variables prefixed with KEYLEDGER_
//
// Nested sections map to underscore-joined names:
//
//	KEYLEDGER_STORAGE_DRIVER=postgres
//	KEYLEDGER_STORAGE_DSN="host=db user=keyledger dbname=keyledger sslmode=disable"
//	KEYLEDGER_REDEEM_RATE_PER_MINUTE=10
//	KEYLEDGER_LOGGING_LEVEL=debug
//
// The merged result is validated with struct tags before it is returned.
package config
