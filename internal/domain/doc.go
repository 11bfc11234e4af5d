// Package domain supervises isolation domains.
//
// The supervisor hands out domain ids, runs each domain's entry on a kernel
// thread whose current domain is that id, and reclaims every shared-heap
// allocation the domain still owns when it exits, crashes or is killed.
// Crash-looping domains are restarted only while their breaker admits it.
package domain
