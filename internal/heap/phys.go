package heap

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrOutOfMemory   = errors.New("heap: out of memory")
	ErrInvalidLayout = errors.New("heap: alignment must be a power of two")
)

// PhysAllocator is the physical memory provider behind the shared heap.
// It knows nothing about domains.
type PhysAllocator interface {
	Alloc(layout Layout) (Address, error)
	Dealloc(addr Address, layout Layout)
}

// heapBase keeps address zero and the first page unused so a zero Address
// never names a live allocation.
const heapBase Address = 0x1000

// SlabAllocator is an in-process PhysAllocator handing out addresses from a
// bounded region. Freed blocks are recycled per layout, newest first.
type SlabAllocator struct {
	mu    sync.Mutex
	limit uintptr
	next  Address
	inUse uintptr
	free  map[Layout][]Address
	live  map[Address]Layout
}

// NewSlabAllocator creates an allocator that refuses to hand out more than
// limit bytes at once. A zero limit means unbounded.
func NewSlabAllocator(limit uintptr) *SlabAllocator {
	return &SlabAllocator{
		limit: limit,
		next:  heapBase,
		free:  make(map[Layout][]Address),
		live:  make(map[Address]Layout),
	}
}

// Alloc reserves a block for layout.
func (s *SlabAllocator) Alloc(layout Layout) (Address, error) {
	if !layout.valid() {
		return 0, fmt.Errorf("alloc %s: %w", layout, ErrInvalidLayout)
	}
	size := blockSize(layout)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit != 0 && s.inUse+size > s.limit {
		return 0, fmt.Errorf("alloc %s with %d of %d bytes in use: %w", layout, s.inUse, s.limit, ErrOutOfMemory)
	}

	var addr Address
	if list := s.free[layout]; len(list) > 0 {
		addr = list[len(list)-1]
		s.free[layout] = list[:len(list)-1]
	} else {
		addr = Address(alignUp(uintptr(s.next), layout.align()))
		s.next = addr + Address(size)
	}

	s.inUse += size
	s.live[addr] = layout
	return addr, nil
}

// Dealloc returns a block. Unknown blocks and layout mismatches are ignored.
func (s *SlabAllocator) Dealloc(addr Address, layout Layout) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.live[addr]; !ok || l != layout {
		return
	}
	delete(s.live, addr)
	s.inUse -= blockSize(layout)
	s.free[layout] = append(s.free[layout], addr)
}

// InUse returns the number of bytes currently handed out.
func (s *SlabAllocator) InUse() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// Live returns the number of blocks currently handed out.
func (s *SlabAllocator) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// blockSize never returns zero so zero-sized values still get distinct addresses.
func blockSize(l Layout) uintptr {
	size := l.padded()
	if size == 0 {
		return l.align()
	}
	return size
}
