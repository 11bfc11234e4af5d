// Package proxy implements the domain-call boundary.
//
// A call into another domain switches the calling thread's current domain
// id to the callee for the duration of the call and restores it afterwards,
// whether the callee returns or panics. Ownership handles passed along are
// moved to the callee before the call and back to the caller after it.
package proxy
