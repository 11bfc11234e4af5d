// Package http serves the kernel's debug API.
//
// Endpoints are read-mostly views over kernel, heap and supervisor
// snapshots. Two endpoints act: raising an interrupt on a CPU and killing a
// domain.
//
//	GET  /health
//	GET  /metrics                          prometheus exposition
//	GET  /metrics/json
//	GET  /debug/scheduler
//	GET  /debug/cpus/:cpu
//	POST /debug/cpus/:cpu/interrupts/:irq
//	GET  /debug/threads
//	GET  /debug/heap
//	GET  /debug/domains
//	GET  /debug/domains/:id
//	POST /debug/domains/:id/kill
//	GET  /debug/crashes
//	GET  /debug/spans
//	GET  /debug/log/level                  also PUT {"level":"debug"}
package http
