// Package main runs the fast checkout capabilities server.
//
// The server keeps one capabilities cache per browser profile and answers
// trigger-form and consentless-execution queries from it, fetching
// availability from the Autofill Assistant backend over HTTP or gRPC.
//
// Configuration:
//   - Defaults
//   - Config file (-config or FASTCHECKOUT_CONFIG)
//   - Environment variables
//   - CLI flags (override everything else)
//
// Usage:
//
//	./server -port 8080 -transport grpc -grpc-addr localhost:50051
//	./server -config fastcheckout.yaml -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
