package heap

import (
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/monitoring"
)

func newTestHeap(t *testing.T) (*SharedHeap, *SlabAllocator, *monitoring.Metrics) {
	t.Helper()
	phys := NewSlabAllocator(0)
	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())
	return New(phys, WithMetrics(metrics)), phys, metrics
}

func TestDeallocOnlyByOwner(t *testing.T) {
	h, phys, metrics := newTestHeap(t)
	layout := Layout{Size: 48, Align: 8}

	addr, err := h.Alloc(7, layout)
	require.NoError(t, err)

	h.Dealloc(8, addr, layout)
	owner, ok := h.Owner(addr)
	require.True(t, ok, "another domain cannot free the allocation")
	assert.Equal(t, DomainID(7), owner)
	assert.Equal(t, 1, phys.Live())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HeapMismatches.WithLabelValues("dealloc")))

	h.Dealloc(7, addr, layout)
	_, ok = h.Owner(addr)
	assert.False(t, ok)
	assert.Equal(t, 0, phys.Live())

	// double free is a silent no-op
	h.Dealloc(7, addr, layout)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HeapMismatches.WithLabelValues("dealloc")))
}

func TestChangeDomainBlocksOldOwner(t *testing.T) {
	h, phys, _ := newTestHeap(t)
	layout := LayoutOf[[16]uint64]()

	addr, err := h.Alloc(1, layout)
	require.NoError(t, err)

	assert.True(t, h.ChangeDomain(1, 2, addr, layout))
	owner, _ := h.Owner(addr)
	assert.Equal(t, DomainID(2), owner)

	h.Dealloc(1, addr, layout)
	assert.Equal(t, 1, phys.Live(), "old owner's dealloc is a no-op")

	assert.False(t, h.ChangeDomain(1, 3, addr, layout))
	owner, _ = h.Owner(addr)
	assert.Equal(t, DomainID(2), owner, "retag by a non-owner is a no-op")

	h.Dealloc(2, addr, layout)
	assert.Equal(t, 0, phys.Live())
}

func TestDropDomainReclaimsExactlyThatDomain(t *testing.T) {
	h, phys, metrics := newTestHeap(t)
	rng := rand.New(rand.NewSource(42))

	want := map[DomainID]int{}
	for i := 0; i < 200; i++ {
		d := DomainID(rng.Intn(4) + 1)
		_, err := h.Alloc(d, Layout{Size: uintptr(rng.Intn(64) + 1), Align: 8})
		require.NoError(t, err)
		want[d]++
	}

	objects, bytes := h.DropDomain(2)
	assert.Equal(t, want[2], objects)
	assert.Positive(t, bytes)
	assert.Equal(t, float64(bytes), testutil.ToFloat64(metrics.HeapReclaimed))

	usage := h.Usage()
	assert.NotContains(t, usage, DomainID(2))
	for _, d := range []DomainID{1, 3, 4} {
		assert.Equal(t, want[d], usage[d].Objects, "domain %d untouched", d)
	}
	assert.Equal(t, 200-want[2], phys.Live())
}

func TestDeallocAfterDropIsNoop(t *testing.T) {
	h, phys, _ := newTestHeap(t)
	layout := Layout{Size: 8, Align: 8}

	addr, err := h.Alloc(5, layout)
	require.NoError(t, err)
	h.DropDomain(5)

	// a stale owner destructor running after the sweep finds nothing
	h.Dealloc(5, addr, layout)
	assert.Equal(t, 0, phys.Live())
	assert.Equal(t, 0, h.Table().Len())
}

func TestAllocPropagatesOutOfMemory(t *testing.T) {
	h := New(NewSlabAllocator(16))
	_, err := h.Alloc(1, Layout{Size: 32, Align: 8})
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, 0, h.Table().Len())
}

func TestBindTracksCallerDomain(t *testing.T) {
	h, _, _ := newTestHeap(t)
	cell := NewCell(3)
	bound := h.Bind(cell)

	assert.Equal(t, DomainID(3), bound.CurrentDomainID())
	old := bound.UpdateCurrentDomainID(9)
	assert.Equal(t, DomainID(3), old)
	assert.Equal(t, DomainID(9), cell.CurrentDomainID())
}
