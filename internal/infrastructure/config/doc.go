// Package config provides 12-factor configuration management for the fast
// checkout service.
//
// Values are layered: Default() first, then an optional YAML or TOML file
// named by FASTCHECKOUT_CONFIG, then environment variables. CLI flags in
// cmd/server override the result.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Capabilities: Cache size, entry lifetime, hash prefix length, intent
//   - Backend: Capabilities service transport, endpoint and client context
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Environment Variables:
//   - PORT, HOST, LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - CAPABILITIES_MAX_SIZE, CAPABILITIES_LIFETIME, CAPABILITIES_HASH_PREFIX_LENGTH, CAPABILITIES_INTENT
//   - BACKEND_TRANSPORT, BACKEND_ENDPOINT, BACKEND_GRPC_ADDR, BACKEND_API_KEY, BACKEND_TIMEOUT,
//     BACKEND_RETRY_MAX, BACKEND_RPS, BACKEND_LOCALE, BACKEND_COUNTRY, BACKEND_CLIENT_VERSION
package config
