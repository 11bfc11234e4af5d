// Package tracing records spans for calls that cross a domain boundary.
//
// A proxy opens a span as it switches the calling thread into the callee's
// domain and finishes it on the way back, crash or not. Finished spans are
// logged by a background collector and the most recent are kept for the
// debug API.
//
//	span := tracer.Start("blockdev.read", caller, callee)
//	defer span.Finish()
package tracing
