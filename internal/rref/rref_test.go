package rref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
)

type packet struct {
	Len  int
	Data [64]byte
}

func newHeap(domain heap.DomainID) (*heap.SharedHeap, heap.Heap, *heap.Cell) {
	shared := heap.New(heap.NewSlabAllocator(0))
	cell := heap.NewCell(domain)
	return shared, shared.Bind(cell), cell
}

func TestNewTagsCurrentDomain(t *testing.T) {
	shared, h, _ := newHeap(4)

	r, err := New(h, packet{Len: 3})
	require.NoError(t, err)

	assert.Equal(t, heap.DomainID(4), r.Domain())
	owner, ok := shared.Owner(r.Address())
	require.True(t, ok)
	assert.Equal(t, heap.DomainID(4), owner)
	assert.GreaterOrEqual(t, r.Layout().Size, heap.LayoutOf[packet]().Size+8)
}

func TestDereferenceAndMutate(t *testing.T) {
	_, h, _ := newHeap(1)

	r, err := New(h, packet{Len: 1})
	require.NoError(t, err)

	r.Update(func(p *packet) { p.Len = 10; p.Data[0] = 0xff })
	assert.Equal(t, 10, r.Get().Len)
	assert.Equal(t, byte(0xff), r.Ptr().Data[0])

	r.Set(packet{Len: 2})
	assert.Equal(t, 2, r.Get().Len)
}

func TestMoveToRetagsAllocation(t *testing.T) {
	shared, h, _ := newHeap(1)

	r, err := New(h, 42)
	require.NoError(t, err)
	addr, layout := r.Address(), r.Layout()

	r.MoveTo(2)
	assert.Equal(t, heap.DomainID(2), r.Domain())
	owner, _ := shared.Owner(addr)
	assert.Equal(t, heap.DomainID(2), owner)

	// the original domain can no longer free it
	shared.Dealloc(1, addr, layout)
	_, ok := shared.Owner(addr)
	assert.True(t, ok)

	r.Drop()
	_, ok = shared.Owner(addr)
	assert.False(t, ok, "drop frees on behalf of the current owner")
}

func TestDropAfterDomainReclaimed(t *testing.T) {
	shared, h, _ := newHeap(3)

	r, err := New(h, "payload")
	require.NoError(t, err)

	objects, _ := shared.DropDomain(3)
	assert.Equal(t, 1, objects)

	assert.NotPanics(t, r.Drop)
	assert.Equal(t, 0, shared.Table().Len())
}

func TestStaleReferenceCannotFreeReusedAddress(t *testing.T) {
	shared, h, cell := newHeap(1)

	stale, err := New(h, packet{Len: 1})
	require.NoError(t, err)
	addr := stale.Address()
	shared.DropDomain(1)

	cell.UpdateCurrentDomainID(2)
	live, err := New(h, packet{Len: 2})
	require.NoError(t, err)
	require.Equal(t, addr, live.Address(), "freed block is reused for the same layout")

	stale.MoveTo(3)
	assert.True(t, stale.Swept())
	assert.Equal(t, heap.DomainID(1), stale.Domain(), "a failed move keeps the last owner")

	stale.MoveTo(2)
	stale.Drop()

	owner, ok := shared.Owner(addr)
	require.True(t, ok, "the other domain's allocation survives")
	assert.Equal(t, heap.DomainID(2), owner)
	assert.Equal(t, 2, live.Get().Len)

	live.Drop()
	assert.Equal(t, 0, shared.Table().Len())
}

func TestTakeInvalidatesSource(t *testing.T) {
	_, h, _ := newHeap(1)

	r, err := New(h, 7)
	require.NoError(t, err)

	moved := r.Take()
	assert.False(t, r.Valid())
	assert.True(t, moved.Valid())
	assert.Equal(t, 7, moved.Get())

	assert.PanicsWithValue(t, ErrConsumed, func() { r.Get() })
	assert.PanicsWithValue(t, ErrConsumed, func() { r.MoveTo(2) })

	moved.Drop()
	assert.False(t, moved.Valid())
	assert.NotPanics(t, moved.Drop, "second drop is a no-op")
}

func TestNilHeapHalts(t *testing.T) {
	assert.PanicsWithValue(t, heap.ErrHeapNotInstalled, func() {
		_, _ = New[int](nil, 1)
	})
}

func TestNewReportsOutOfMemory(t *testing.T) {
	shared := heap.New(heap.NewSlabAllocator(8))
	_, err := New(shared.Bind(heap.NewCell(1)), packet{})
	assert.ErrorIs(t, err, heap.ErrOutOfMemory)
}

func TestAllocationInsideCallIsAttributedToCallee(t *testing.T) {
	shared, h, cell := newHeap(1)

	caller := cell.UpdateCurrentDomainID(2)
	r, err := New(h, 1)
	cell.UpdateCurrentDomainID(caller)
	require.NoError(t, err)

	owner, _ := shared.Owner(r.Address())
	assert.Equal(t, heap.DomainID(2), owner)
}
