// Package rref provides exclusive references to values on the shared heap.
//
// An RRef is the capability to use one shared-heap value. It is move-only:
// it carries a noCopy marker so `go vet` flags copies, it is always passed by
// pointer, and Take hands the value to a new RRef while invalidating the old
// one. Only one domain can therefore reach the value at a time.
//
// Moving an RRef across a domain boundary retags its allocation (MoveTo).
// Afterwards the previous owner can no longer free it. If the owning domain
// dies, the supervisor reclaims the allocation, and a later Drop becomes a
// no-op.
//
// Deque is a bounded ring of values stored inside a single RRef. Handing a
// Deque to another domain costs one ownership transfer, whatever its
// capacity.
package rref
