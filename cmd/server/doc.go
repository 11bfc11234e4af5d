// Package main boots the isolation kernel and serves its debug API.
//
// The kernel runs cooperative threads on simulated CPUs. Domains spawned on
// it share one heap whose allocations are attributed to their owner, so a
// crashed domain's memory is reclaimed without touching anyone else's.
//
// Configuration:
//   - Environment variables (KERNEL_CPUS, KERNEL_TICK, HEAP_MAX_BYTES, ...)
//   - YAML boot file (-config), applied over the environment
//   - CLI flags (override both)
//
// With SUPERVISOR_SAMPLES=true (or supervisor.samples in the boot file) two
// sample domains are spawned: a block store and a client that writes to it
// through a traced proxy. They populate /debug/domains and /debug/spans and
// can be killed through the debug API.
//
// Usage:
//
//	./server -port 8000 -cpus 4 -tick 10ms
//	./server -config boot.yaml
//
//	# Development mode (console logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
