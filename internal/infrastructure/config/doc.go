// Package config provides 12-factor configuration for the scriptkit server.
//
// Configuration is loaded from environment variables with defaults. CLI
// flags override environment values.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, development mode)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting
//   - Relay: Upstream fetch policy for the asset relay
//   - Scripts: Registry, manifests and service-worker routes
//   - Cache: Persisted TTL cache location
//   - Buffer: Event batching
//   - ServiceWorker: Trigger timeout
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
