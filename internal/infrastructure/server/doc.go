// Package server wires the fast checkout capabilities service together.
//
// NewServer builds, in order:
//  1. The zap logger from the logging config
//  2. Prometheus metrics and the span tracer
//  3. The capabilities backend (HTTP or gRPC transport)
//  4. The profile manager, one fetcher per profile
//  5. The gin router with recovery, tracing, metrics, CORS, body and rate limits
//
// Shutdown drains HTTP requests, closes every profile (notifying waiters of
// in-flight lookups) and then the backend connection.
//
// Example Usage:
//
//	cfg, err := config.Load()
//	srv, err := server.NewServer(cfg)
//	go srv.Run()
//	defer srv.Shutdown(ctx)
package server
