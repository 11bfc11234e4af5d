package rref

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
)

// ErrInvalidCapacity is returned for a Deque capacity below one.
var ErrInvalidCapacity = errors.New("rref: deque capacity must be positive")

type slot[T any] struct {
	value T
	full  bool
}

// ring is the deque's heap resident: cursors and slots in one allocation.
type ring[T any] struct {
	head  int // next slot to write
	tail  int // first slot to read
	n     int
	slots []slot[T]
}

// Deque is a fixed-capacity FIFO held by a single RRef. When full, PushBack
// overwrites the oldest element.
type Deque[T any] struct {
	_   noCopy
	ref *RRef[ring[T]]
}

// NewDeque allocates an empty deque of the given capacity in the caller's
// current domain.
func NewDeque[T any](h heap.Heap, capacity int) (*Deque[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("new deque of %d: %w", capacity, ErrInvalidCapacity)
	}
	layout, _ := tagLayout.Extend(heap.LayoutOf[[3]int]())
	layout, _ = layout.Extend(heap.LayoutOf[slot[T]]().Array(capacity))
	ref, err := newSized(h, ring[T]{slots: make([]slot[T], capacity)}, layout)
	if err != nil {
		return nil, err
	}
	return &Deque[T]{ref: ref}, nil
}

// PushBack appends value, overwriting the oldest element if the deque is full.
func (d *Deque[T]) PushBack(value T) {
	r := d.ref.Ptr()
	if r.head == r.tail && r.slots[r.head].full {
		r.tail = (r.tail + 1) % len(r.slots)
	} else {
		r.n++
	}
	r.slots[r.head] = slot[T]{value: value, full: true}
	r.head = (r.head + 1) % len(r.slots)
}

// PopFront removes and returns the oldest element. ok is false when empty.
func (d *Deque[T]) PopFront() (value T, ok bool) {
	r := d.ref.Ptr()
	s := &r.slots[r.tail]
	if !s.full {
		return value, false
	}
	value = s.value
	*s = slot[T]{}
	r.tail = (r.tail + 1) % len(r.slots)
	r.n--
	return value, true
}

// Len returns the number of queued elements.
func (d *Deque[T]) Len() int { return d.ref.Ptr().n }

// Cap returns the fixed capacity.
func (d *Deque[T]) Cap() int { return len(d.ref.Ptr().slots) }

// Domain returns the owning domain of the backing allocation.
func (d *Deque[T]) Domain() heap.DomainID { return d.ref.Domain() }

// MoveTo hands the whole deque, contents and cursors, to domain with a
// single ownership transfer.
func (d *Deque[T]) MoveTo(domain heap.DomainID) { d.ref.MoveTo(domain) }

// Swept reports whether the backing allocation was reclaimed with its owner.
func (d *Deque[T]) Swept() bool { return d.ref.Swept() }

// Take moves the deque into a new value and invalidates d.
func (d *Deque[T]) Take() *Deque[T] {
	return &Deque[T]{ref: d.ref.Take()}
}

// Drop frees the backing allocation.
func (d *Deque[T]) Drop() { d.ref.Drop() }
