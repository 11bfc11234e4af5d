package heap

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/monitoring"
)

// ErrHeapNotInstalled is the panic value for use of a missing heap capability.
var ErrHeapNotInstalled = errors.New("heap: shared heap capability is not installed")

// Heap is the shared-heap capability handed to a domain. It is bound to the
// calling thread, whose current domain id it reads and swaps.
type Heap interface {
	Alloc(domain DomainID, layout Layout) (Address, error)
	Dealloc(domain DomainID, addr Address, layout Layout)
	ChangeDomain(from, to DomainID, addr Address, layout Layout) bool
	DomainTracker
}

// DomainTracker exposes the calling thread's current domain id.
type DomainTracker interface {
	CurrentDomainID() DomainID
	UpdateCurrentDomainID(newID DomainID) (oldID DomainID)
}

// Cell is a standalone DomainTracker for code that runs outside kernel
// threads, such as boot code and tests.
type Cell struct {
	id atomic.Uint64
}

// NewCell returns a tracker starting in domain.
func NewCell(domain DomainID) *Cell {
	c := &Cell{}
	c.id.Store(uint64(domain))
	return c
}

func (c *Cell) CurrentDomainID() DomainID { return DomainID(c.id.Load()) }

func (c *Cell) UpdateCurrentDomainID(newID DomainID) DomainID {
	return DomainID(c.id.Swap(uint64(newID)))
}

// SharedHeap owns the attribution table and the physical allocator.
type SharedHeap struct {
	table   *Table
	phys    PhysAllocator
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// Option configures a SharedHeap.
type Option func(*SharedHeap)

// WithLogger sets the logger used for mismatch and reclamation reports.
func WithLogger(logger *zap.Logger) Option {
	return func(h *SharedHeap) {
		if logger != nil {
			h.logger = logger.Named("heap")
		}
	}
}

// WithMetrics enables heap metrics.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(h *SharedHeap) { h.metrics = metrics }
}

// New creates a shared heap over phys.
func New(phys PhysAllocator, opts ...Option) *SharedHeap {
	h := &SharedHeap{
		table:  NewTable(),
		phys:   phys,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Alloc obtains memory for layout and attributes it to domain.
func (h *SharedHeap) Alloc(domain DomainID, layout Layout) (Address, error) {
	addr, err := h.phys.Alloc(layout)
	if err != nil {
		h.metrics.RecordAllocError()
		return 0, fmt.Errorf("shared heap alloc for domain %s: %w", domain, err)
	}
	h.table.Insert(domain, addr, layout)
	h.metrics.RecordAlloc(uint64(domain), layout.Size)
	return addr, nil
}

// Dealloc frees addr iff it is attributed to domain with exactly layout.
// Anything else is a silent no-op: a domain cannot free memory it does not own.
func (h *SharedHeap) Dealloc(domain DomainID, addr Address, layout Layout) {
	if h.table.Remove(domain, addr, layout, h.phys.Dealloc) {
		h.metrics.RecordDealloc(uint64(domain), layout.Size)
		return
	}
	h.metrics.RecordMismatch("dealloc")
	h.logger.Debug("dealloc matched no record",
		zap.Stringer("domain", domain),
		zap.Stringer("addr", addr),
		zap.Stringer("layout", layout),
	)
}

// ChangeDomain retags addr from one domain to another iff it matches exactly,
// and reports whether it did.
func (h *SharedHeap) ChangeDomain(from, to DomainID, addr Address, layout Layout) bool {
	if h.table.Retag(from, to, addr, layout) {
		h.metrics.RecordTransfer(uint64(from), uint64(to), layout.Size)
		return true
	}
	h.metrics.RecordMismatch("change_domain")
	h.logger.Debug("change_domain matched no record",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Stringer("addr", addr),
	)
	return false
}

// DropDomain frees every allocation attributed to domain. It is the only way
// a dead domain's shared memory is recovered.
func (h *SharedHeap) DropDomain(domain DomainID) (objects int, bytes uintptr) {
	removed := h.table.RemoveDomain(domain, h.phys.Dealloc)
	for _, r := range removed {
		bytes += r.Layout.Size
	}
	if len(removed) > 0 {
		h.metrics.RecordReclaim(uint64(domain), bytes)
		h.logger.Info("reclaimed domain allocations",
			zap.Stringer("domain", domain),
			zap.Int("objects", len(removed)),
			zap.Uint64("bytes", uint64(bytes)),
		)
	}
	return len(removed), bytes
}

// Owner returns the domain addr is attributed to.
func (h *SharedHeap) Owner(addr Address) (DomainID, bool) {
	r, ok := h.table.Lookup(addr)
	return r.Domain, ok
}

// Table exposes the attribution table for inspection.
func (h *SharedHeap) Table() *Table { return h.table }

// Usage returns per-domain usage.
func (h *SharedHeap) Usage() map[DomainID]Usage { return h.table.Usage() }

// Bind returns the Heap capability for the thread tracked by domains.
func (h *SharedHeap) Bind(domains DomainTracker) Heap {
	return &boundHeap{SharedHeap: h, domains: domains}
}

type boundHeap struct {
	*SharedHeap
	domains DomainTracker
}

func (b *boundHeap) CurrentDomainID() DomainID { return b.domains.CurrentDomainID() }

func (b *boundHeap) UpdateCurrentDomainID(newID DomainID) DomainID {
	return b.domains.UpdateCurrentDomainID(newID)
}
