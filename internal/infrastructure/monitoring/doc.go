/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics for the plugin sandbox,
tracking API requests, plugin executions, interpreter pool health, security
policy findings and outbound plugin traffic. Each Metrics value owns a
private registry, so several collectors can coexist in one process.

# Features

- HTTP request metrics (latency, throughput)
- Execution metrics (terminal state, duration, active count, queue depth)
- Pool metrics (idle/in-use contexts, lifecycle events, acquire wait)
- Security metrics (violations by policy and rule)
- Network bridge metrics (requests, latency, SSRF rejections)

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "javascript", "primary")
	// ... run the plugin ...
	timer.Stop("COMPLETED")

A nil *Metrics is valid and records nothing.
*/
package monitoring
