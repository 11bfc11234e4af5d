// Package config provides 12-factor configuration for the kernel server.
//
// Configuration is loaded from environment variables with sensible defaults.
// LoadFile additionally applies a YAML boot file on top:
//
//	kernel:
//	  cpus: 4
//	  tick: 5ms
//	supervisor:
//	  restart: true
//
// Configuration Sections:
//   - Server: debug API listen address
//   - Kernel: CPU count, stack size, thread arena size, timer tick
//   - Heap: shared heap capacity
//   - Supervisor: domain restart policy
//   - Tracing: domain-call span retention
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting of the debug API
//
// Environment Variables:
//   - PORT, HOST
//   - KERNEL_CPUS, KERNEL_STACK_WORDS, KERNEL_MAX_THREADS, KERNEL_TICK
//   - HEAP_MAX_BYTES
//   - SUPERVISOR_RESTART, SUPERVISOR_MAX_FAILURES, SUPERVISOR_RESET_TIMEOUT, SUPERVISOR_MAX_REPORTS
//   - TRACE_RETAIN
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
