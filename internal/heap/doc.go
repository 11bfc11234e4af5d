// Package heap implements the shared heap that isolated domains use to
// exchange data without copying.
//
// Every live shared-heap allocation has exactly one attribution record
// naming the domain entitled to dereference it. Records are kept in a
// single global Table guarded by one lock and indexed by owning domain, so
// reclaiming a dead domain's memory (DropDomain) touches only that domain's
// records.
//
// Capability checks are silent: Dealloc and ChangeDomain with a domain,
// address or layout that matches no record do nothing. Mismatches are
// visible only through debug logs and the isokernel_heap_mismatches_total
// counter.
//
// Example Usage:
//
//	shared := heap.New(heap.NewSlabAllocator(64<<20))
//	h := shared.Bind(ctx) // ctx tracks the calling thread's domain
//	addr, err := h.Alloc(h.CurrentDomainID(), heap.Layout{Size: 64, Align: 8})
//	...
//	shared.DropDomain(crashed)
package heap
