package rref

import (
	"errors"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
)

// ErrConsumed is the panic value for using an RRef after Drop or Take.
var ErrConsumed = errors.New("rref: reference already dropped or moved")

// tagLayout is the owning-domain tag stored ahead of every value.
var tagLayout = heap.LayoutOf[heap.DomainID]()

// noCopy makes `go vet -copylocks` reject copies of the embedding struct.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// object is the shared-heap resident: owning-domain tag followed by the value.
// swept is set once the allocation is found to have been reclaimed with its
// owner; the address may belong to someone else by then.
type object[T any] struct {
	domain heap.DomainID
	swept  bool
	value  T
}

// RRef is an exclusive, move-only reference to a value on the shared heap.
type RRef[T any] struct {
	_      noCopy
	heap   heap.Heap
	obj    *object[T]
	addr   heap.Address
	layout heap.Layout
}

// New allocates shared-heap space for value, attributed to the caller's
// current domain. A nil heap capability halts the caller with
// ErrHeapNotInstalled.
func New[T any](h heap.Heap, value T) (*RRef[T], error) {
	layout, _ := tagLayout.Extend(heap.LayoutOf[T]())
	return newSized(h, value, layout)
}

func newSized[T any](h heap.Heap, value T, layout heap.Layout) (*RRef[T], error) {
	if h == nil {
		panic(heap.ErrHeapNotInstalled)
	}
	domain := h.CurrentDomainID()
	addr, err := h.Alloc(domain, layout)
	if err != nil {
		return nil, err
	}
	return &RRef[T]{
		heap:   h,
		obj:    &object[T]{domain: domain, value: value},
		addr:   addr,
		layout: layout,
	}, nil
}

// Get returns the referenced value.
func (r *RRef[T]) Get() T {
	return r.live().value
}

// Ptr returns a pointer to the value for in-place mutation. It must not
// outlive the RRef.
func (r *RRef[T]) Ptr() *T {
	return &r.live().value
}

// Set replaces the referenced value.
func (r *RRef[T]) Set(value T) {
	r.live().value = value
}

// Update applies fn to the value in place.
func (r *RRef[T]) Update(fn func(*T)) {
	fn(&r.live().value)
}

// Domain returns the domain that currently owns the allocation.
func (r *RRef[T]) Domain() heap.DomainID {
	return r.live().domain
}

// Address returns the shared-heap address of the allocation.
func (r *RRef[T]) Address() heap.Address {
	r.live()
	return r.addr
}

// Layout returns the layout the allocation was made with.
func (r *RRef[T]) Layout() heap.Layout {
	return r.layout
}

// MoveTo transfers ownership of the allocation to domain. The receiving
// domain must obtain the RRef itself through a cross-domain call.
//
// If the owner was reclaimed in the meantime nothing is retagged and the
// reference is marked swept: it keeps its last owner, and neither MoveTo nor
// Drop touch the heap again.
func (r *RRef[T]) MoveTo(domain heap.DomainID) {
	obj := r.live()
	if obj.swept {
		return
	}
	if !r.heap.ChangeDomain(obj.domain, domain, r.addr, r.layout) {
		obj.swept = true
		return
	}
	obj.domain = domain
}

// Swept reports whether the allocation was found reclaimed with its owner.
func (r *RRef[T]) Swept() bool {
	return r.live().swept
}

// Take moves the reference into a new RRef and invalidates r.
func (r *RRef[T]) Take() *RRef[T] {
	obj := r.live()
	moved := &RRef[T]{heap: r.heap, obj: obj, addr: r.addr, layout: r.layout}
	r.obj = nil
	return moved
}

// Forget invalidates r without freeing anything. It is for references whose
// owning domain was reclaimed while it held them.
func (r *RRef[T]) Forget() {
	if r != nil {
		r.obj = nil
	}
}

// Valid reports whether r still holds its reference.
func (r *RRef[T]) Valid() bool {
	return r != nil && r.obj != nil
}

// Drop destroys the value and frees the allocation on behalf of its current
// owner. If that owner has been reclaimed already, the free is a no-op.
func (r *RRef[T]) Drop() {
	if r == nil || r.obj == nil {
		return
	}
	obj := r.obj
	r.obj = nil

	var zero T
	obj.value = zero
	if !obj.swept {
		r.heap.Dealloc(obj.domain, r.addr, r.layout)
	}
}

func (r *RRef[T]) live() *object[T] {
	if r == nil || r.obj == nil {
		panic(ErrConsumed)
	}
	return r.obj
}
