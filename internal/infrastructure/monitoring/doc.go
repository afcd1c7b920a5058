/*
Package monitoring provides Prometheus metrics for the scriptkit server.

# Overview

Each Metrics value owns a prometheus.Registry, so tests and multiple servers
in one process never collide on registration.

# Metrics

- HTTP request metrics (latency, throughput, size)
- Relay fetches by endpoint and outcome, and policy violations
- Script instance transitions and active instance count
- Event buffer flushes and batch sizes
- Persisted cache hits and misses
- Status stream connections

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "proxy")
	// ... fetch ...
	timer.Stop("success")
*/
package monitoring
