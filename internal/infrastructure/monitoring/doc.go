/*
Package monitoring provides Prometheus metrics for the fast checkout service.

# Overview

Metrics are registered with a registry owned by each Metrics instance, so
several instances can coexist in one process (tests, embedded use). The
registry also carries the Go runtime and process collectors.

# Features

- HTTP request metrics (latency, throughput, size) per route template
- Per-profile fetcher metrics (cache states, lookups, hits, coalescing)
- Backend call metrics per transport, and circuit breaker state
- Live profile gauge and uptime

# Usage

	metrics := monitoring.NewMetrics()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	svc = metrics.InstrumentService(svc, "http")
	fetcher, err := capabilities.NewFetcher(svc, capabilities.Options{
		Recorder: metrics.ForProfile("default"),
	})
*/
package monitoring
