package heap

import (
	"fmt"
	"strconv"
	"unsafe"
)

// DomainID names an isolated software component.
type DomainID uint64

// KernelDomain owns allocations made outside any domain.
const KernelDomain DomainID = 0

func (d DomainID) String() string { return strconv.FormatUint(uint64(d), 10) }

// Address is the shared-heap address of an allocation.
type Address uintptr

func (a Address) String() string { return fmt.Sprintf("%#x", uintptr(a)) }

// Layout is the size and alignment an allocation was made with.
// Frees must present the same layout.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// LayoutOf returns the layout of a value of type T.
func LayoutOf[T any]() Layout {
	var v T
	return Layout{Size: unsafe.Sizeof(v), Align: unsafe.Alignof(v)}
}

// Array returns the layout of n consecutive elements of l.
func (l Layout) Array(n int) Layout {
	return Layout{Size: l.padded() * uintptr(n), Align: l.Align}
}

// Extend returns the layout of l followed by next, and the offset of next.
func (l Layout) Extend(next Layout) (Layout, uintptr) {
	align := l.align()
	if next.align() > align {
		align = next.align()
	}
	offset := alignUp(l.Size, next.align())
	return Layout{Size: alignUp(offset+next.Size, align), Align: align}, offset
}

func (l Layout) String() string {
	return fmt.Sprintf("size=%d align=%d", l.Size, l.Align)
}

func (l Layout) valid() bool {
	a := l.align()
	return a&(a-1) == 0
}

func (l Layout) align() uintptr {
	if l.Align == 0 {
		return 1
	}
	return l.Align
}

func (l Layout) padded() uintptr {
	return alignUp(l.Size, l.align())
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
