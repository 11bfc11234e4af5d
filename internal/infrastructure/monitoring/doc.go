/*
Package monitoring provides Prometheus metrics for the isolation kernel.

# Overview

Every kernel component accepts an optional *Metrics. All Record/Set methods
are safe on a nil receiver so components can run unobserved in tests.

# Metrics

  - Scheduler: context switches, yields, run queue length, thread lifecycle
  - Interrupt wait queues: parks, signals, threads woken
  - Shared heap: allocations, live bytes per domain, mismatched frees,
    ownership transfers, bytes reclaimed from dead domains
  - Domains: running domains, deaths by reason
  - Debug API: request counts and latency

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	metrics.RecordSwitch(0)

Tests should use NewMetricsWith(prometheus.NewRegistry()).
*/
package monitoring
