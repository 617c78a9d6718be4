// Package config provides configuration management for the Troupe engine.
//
// Configuration is stored in YAML format at ~/.troupe/config.yaml and is
// created with default values on first load. Every setting can be overridden
// by an environment variable with the TROUPE_ prefix, where dots in the key
// path become underscores:
//
//	TROUPE_SERVER_PORT=9090
//	TROUPE_LOGGING_LEVEL=debug
//	TROUPE_ROUTER_STICKY_WINDOW=2m
//
// # Loading
//
// Most callers use Load, which reads the default location:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// LoadFromPath reads an explicit file instead, which is what tests and the
// --config CLI flag use. Both create the file with defaults when it does not
// exist, so a fresh install always has a config file to edit.
//
// # Sections
//
// The configuration is grouped by subsystem:
//
//   - engine: definition directory and fallback persona/framework
//   - router: sticky window, activity routing, tie-break margin
//   - blend: significance threshold, cache TTL, default weight tables
//   - relationship: responder scaling, log size, frequency window
//   - storage: data directory and snapshot interval
//   - server: gateway host, port, and auth enforcement
//   - logging: level and file path
//
// # Validation
//
// Validate checks ranges and enumerations (port range, margin in (0,1],
// known log levels). The CLI runs it after every load so a bad edit fails
// fast with a specific message instead of surfacing as odd behavior later.
package config
