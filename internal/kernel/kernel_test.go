package kernel

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
)

func testConfig() Config {
	return Config{CPUs: 1, StackWords: 64, MaxThreads: 16}
}

func newKernel(t *testing.T, cfg Config, opts ...Option) *Kernel {
	t.Helper()
	k, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, k.Shutdown(ctx))
	})
	return k
}

func waitDone(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("thread %s did not exit", h)
	}
}

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no cpus", func(c *Config) { c.CPUs = 0 }},
		{"empty stack", func(c *Config) { c.StackWords = 0 }},
		{"no room past idle threads", func(c *Config) { c.CPUs = 4; c.MaxThreads = 4 }},
		{"negative tick", func(c *Config) { c.Tick = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestCreateValidation(t *testing.T) {
	k := newKernel(t, Config{CPUs: 1, StackWords: 8, MaxThreads: 2})
	noop := func(*Context) {}

	_, err := k.Create("nil", nil)
	assert.ErrorIs(t, err, ErrNilEntry)

	_, err = k.CreateOn(3, "far", noop)
	assert.ErrorIs(t, err, ErrNoSuchCPU)

	_, err = k.Create("loud", noop, WithPriority(MaxPriority+1))
	assert.ErrorIs(t, err, ErrInvalidPriority)

	_, err = k.Create("one", noop)
	require.NoError(t, err)
	_, err = k.Create("two", noop)
	assert.ErrorIs(t, err, ErrArenaFull)
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	k := newKernel(t, testConfig())
	var rec recorder
	entry := func(name string) Entry { return func(*Context) { rec.add(name) } }

	low, err := k.Create("low", entry("low"), WithPriority(1))
	require.NoError(t, err)
	high, err := k.Create("high", entry("high"), WithPriority(9))
	require.NoError(t, err)

	k.Start()
	waitDone(t, high)
	waitDone(t, low)

	assert.Equal(t, []string{"high", "low"}, rec.get())
}

func TestYieldHandsOverCPU(t *testing.T) {
	k := newKernel(t, testConfig())
	var rec recorder
	worker := func(name string) Entry {
		return func(ctx *Context) {
			for i := 0; i < 3; i++ {
				rec.add(name)
				ctx.Yield()
			}
		}
	}

	a, err := k.Create("a", worker("a"), WithPriority(2))
	require.NoError(t, err)
	b, err := k.Create("b", worker("b"), WithPriority(2))
	require.NoError(t, err)

	k.Start()
	waitDone(t, a)
	waitDone(t, b)

	order := rec.get()
	require.Len(t, order, 6)
	assert.Equal(t, []string{"b", "a"}, order[:2])

	snap := k.Snapshot()
	assert.Greater(t, snap.CPUs[0].Switches, uint64(6))
	assert.Positive(t, snap.CPUs[0].Latency.Samples)
}

func TestHandleYieldTakesEffectAtCheckpoint(t *testing.T) {
	k := newKernel(t, testConfig())
	var rec recorder

	busy, err := k.Create("busy", func(ctx *Context) {
		for !ctx.Checkpoint() {
			runtime.Gosched()
		}
		rec.add("busy")
	}, WithPriority(5))
	require.NoError(t, err)
	peer, err := k.Create("peer", func(*Context) { rec.add("peer") }, WithPriority(1))
	require.NoError(t, err)

	assert.NoError(t, peer.Yield(), "yield of a thread that is not running is a no-op")
	k.Start()

	require.Eventually(t, func() bool { return busy.State() == StateRunning }, time.Second, time.Millisecond)
	assert.Equal(t, StateRunnable, peer.State())

	require.NoError(t, busy.Yield())
	waitDone(t, peer)
	waitDone(t, busy)
	assert.Equal(t, []string{"peer", "busy"}, rec.get())
}

func TestInterruptWakeScenario(t *testing.T) {
	k := newKernel(t, testConfig())
	cpu, err := k.CPU(0)
	require.NoError(t, err)
	noop := func(*Context) {}

	t1, err := k.Create("t1", noop)
	require.NoError(t, err)
	t2, err := k.Create("t2", noop)
	require.NoError(t, err)

	require.NoError(t, cpu.Park(7, t1))
	require.NoError(t, cpu.Park(7, t2))
	assert.Equal(t, StateWaiting, t1.State())
	assert.Equal(t, StateWaiting, t2.State())

	snap := cpu.Snapshot()
	assert.Equal(t, map[uint8]int{7: 2}, snap.Waiting)
	assert.Equal(t, 1, snap.RunQueue)

	assert.Equal(t, 2, cpu.Signal(7))
	assert.Equal(t, StateRunnable, t1.State())
	assert.Equal(t, StateRunnable, t2.State())

	snap = cpu.Snapshot()
	assert.Empty(t, snap.Waiting)
	assert.Equal(t, 3, snap.RunQueue)

	assert.Zero(t, cpu.Signal(7))
	assert.Equal(t, 3, cpu.Snapshot().RunQueue)
}

func TestRecvInterruptBlocksUntilSignal(t *testing.T) {
	k := newKernel(t, testConfig())
	cpu, err := k.CPU(0)
	require.NoError(t, err)

	h, err := k.Create("net", func(ctx *Context) { ctx.RecvInterrupt(11) })
	require.NoError(t, err)
	k.Start()

	require.Eventually(t, func() bool { return h.State() == StateWaiting }, time.Second, time.Millisecond)
	assert.Equal(t, 1, cpu.Signal(11))
	waitDone(t, h)
}

func TestTickWakesTimerWaitersAndRequestsReschedule(t *testing.T) {
	k := newKernel(t, testConfig())
	cpu, err := k.CPU(0)
	require.NoError(t, err)

	sleeper, err := k.Create("sleeper", func(ctx *Context) { ctx.RecvInterrupt(TimerIRQ) }, WithPriority(5))
	require.NoError(t, err)
	busy, err := k.Create("busy", func(ctx *Context) {
		for !ctx.Checkpoint() {
			runtime.Gosched()
		}
	})
	require.NoError(t, err)
	k.Start()

	require.Eventually(t, func() bool { return sleeper.State() == StateWaiting }, time.Second, time.Millisecond)
	assert.Equal(t, 1, cpu.Tick())
	waitDone(t, sleeper)
	waitDone(t, busy)
}

func TestExitReleasesThread(t *testing.T) {
	k := newKernel(t, testConfig())
	baseline := k.Snapshot().ThreadsInUse
	require.Equal(t, 1, baseline)

	h, err := k.Create("short", func(*Context) {})
	require.NoError(t, err)
	k.Start()
	waitDone(t, h)

	assert.Equal(t, baseline, k.Snapshot().ThreadsInUse)
	assert.Equal(t, StateExited, h.State())
	assert.ErrorIs(t, h.SetPriority(3), ErrThreadExited)
	assert.ErrorIs(t, h.SetState(StateRunnable), ErrThreadExited)

	// The slot is reused, but the old handle does not see the new thread.
	parked, err := k.Create("parked", func(ctx *Context) { ctx.RecvInterrupt(5) })
	require.NoError(t, err)
	assert.Equal(t, h.ID(), parked.ID())
	assert.Equal(t, StateExited, h.State())
}

func TestPanicIsReportedAndTerminates(t *testing.T) {
	k := newKernel(t, testConfig())
	faults := make(chan Fault, 1)
	k.OnFault(func(f Fault) { faults <- f })

	h, err := k.Create("boom", func(*Context) { panic("boom") }, WithDomain(4))
	require.NoError(t, err)
	k.Start()

	select {
	case f := <-faults:
		assert.Equal(t, "boom", f.Value)
		assert.Equal(t, "boom", f.Name)
		assert.Equal(t, heap.DomainID(4), f.Domain)
		assert.NotEmpty(t, f.Stack)
		assert.Contains(t, f.Error(), "panicked")
	case <-time.After(2 * time.Second):
		t.Fatal("fault not reported")
	}
	waitDone(t, h)
	assert.Equal(t, 1, k.Snapshot().ThreadsInUse)
}

func TestPausedThreadIsNeverSelected(t *testing.T) {
	k := newKernel(t, testConfig())
	var rec recorder

	paused, err := k.Create("paused", func(*Context) { rec.add("paused") }, WithPriority(8))
	require.NoError(t, err)
	other, err := k.Create("other", func(*Context) { rec.add("other") })
	require.NoError(t, err)

	require.NoError(t, paused.SetState(StatePaused))
	k.Start()
	waitDone(t, other)

	assert.Equal(t, StatePaused, paused.State())
	assert.Equal(t, []string{"other"}, rec.get())

	require.NoError(t, paused.SetState(StateRunnable))
	waitDone(t, paused)
	assert.Equal(t, []string{"other", "paused"}, rec.get())
}

func TestSetStateRejectsOtherTransitions(t *testing.T) {
	k := newKernel(t, testConfig())
	h, err := k.Create("t", func(*Context) {})
	require.NoError(t, err)

	assert.ErrorIs(t, h.SetState(StateWaiting), ErrInvalidState)
	assert.ErrorIs(t, h.SetState(StateRunning), ErrInvalidState)
	assert.ErrorIs(t, h.SetState(StateExited), ErrInvalidState)
	assert.NoError(t, h.SetState(StateRunnable))
	assert.ErrorIs(t, Handle{}.SetState(StatePaused), ErrInvalidHandle)
}

func TestSetPriorityRequeues(t *testing.T) {
	k := newKernel(t, testConfig())
	var rec recorder
	first, err := k.Create("first", func(*Context) { rec.add("first") }, WithPriority(5))
	require.NoError(t, err)
	second, err := k.Create("second", func(*Context) { rec.add("second") }, WithPriority(1))
	require.NoError(t, err)

	require.NoError(t, second.SetPriority(9))
	p, err := second.Priority()
	require.NoError(t, err)
	assert.Equal(t, Priority(9), p)
	assert.ErrorIs(t, second.SetPriority(MaxPriority+1), ErrInvalidPriority)

	k.Start()
	waitDone(t, first)
	waitDone(t, second)
	assert.Equal(t, []string{"second", "first"}, rec.get())
}

func TestSetAffinity(t *testing.T) {
	k := newKernel(t, Config{CPUs: 2, StackWords: 8, MaxThreads: 8})
	h, err := k.Create("t", func(*Context) {})
	require.NoError(t, err)

	require.NoError(t, h.SetAffinity(1))
	assert.ErrorIs(t, h.SetAffinity(2), ErrNoSuchCPU)

	var found bool
	for _, info := range k.Threads() {
		if info.ID == h.ID() {
			found = true
			assert.Equal(t, 1, info.Affinity)
			assert.Equal(t, 0, info.CPU)
		}
	}
	assert.True(t, found)
}

func TestThreadsRunOnEveryCPU(t *testing.T) {
	k := newKernel(t, Config{CPUs: 2, StackWords: 8, MaxThreads: 8})
	var rec recorder
	var handles []Handle
	for cpu := 0; cpu < 2; cpu++ {
		h, err := k.CreateOn(cpu, "worker", func(ctx *Context) {
			ctx.Yield()
			rec.add(ctx.Thread().Name())
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	k.Start()
	for _, h := range handles {
		waitDone(t, h)
	}
	assert.Len(t, rec.get(), 2)
	assert.Equal(t, 1, handles[1].CPU().ID())
}

func TestContextHeapTracksThreadDomain(t *testing.T) {
	shared := heap.New(heap.NewSlabAllocator(1 << 16))
	k := newKernel(t, testConfig(), WithHeap(shared))

	addrs := make(chan heap.Address, 1)
	var childDomain heap.DomainID
	var child Handle
	parent, err := k.Create("parent", func(ctx *Context) {
		h := ctx.Heap()
		addr, err := h.Alloc(h.CurrentDomainID(), heap.LayoutOf[uint64]())
		if err != nil {
			panic(err)
		}
		addrs <- addr

		old := ctx.UpdateCurrentDomainID(6)
		if old != 3 {
			panic("unexpected domain")
		}
		child, err = ctx.Spawn("child", func(ctx *Context) { childDomain = ctx.CurrentDomainID() })
		if err != nil {
			panic(err)
		}
	}, WithDomain(3))
	require.NoError(t, err)

	k.Start()
	waitDone(t, parent)
	waitDone(t, child)

	owner, ok := shared.Owner(<-addrs)
	require.True(t, ok)
	assert.Equal(t, heap.DomainID(3), owner)
	assert.Equal(t, heap.DomainID(6), childDomain)
}

func TestContextHeapPanicsWithoutHeap(t *testing.T) {
	k := newKernel(t, testConfig())
	faults := make(chan Fault, 1)
	k.OnFault(func(f Fault) { faults <- f })

	h, err := k.Create("heapless", func(ctx *Context) { ctx.Heap() })
	require.NoError(t, err)
	k.Start()
	waitDone(t, h)

	f := <-faults
	assert.Equal(t, heap.ErrHeapNotInstalled, f.Value)
}

func TestShutdownUnwindsParkedThreads(t *testing.T) {
	k, err := New(testConfig())
	require.NoError(t, err)

	h, err := k.Create("forever", func(ctx *Context) { ctx.RecvInterrupt(1) })
	require.NoError(t, err)
	k.Start()
	require.Eventually(t, func() bool { return h.State() == StateWaiting }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, k.Shutdown(ctx))
	waitDone(t, h)

	_, err = k.Create("late", func(*Context) {})
	assert.ErrorIs(t, err, ErrHalted)
	assert.True(t, k.Snapshot().CPUs[0].Halted)
}

func TestTimerTicksPeriodically(t *testing.T) {
	cfg := testConfig()
	cfg.Tick = time.Millisecond
	k := newKernel(t, cfg)

	h, err := k.Create("sleeper", func(ctx *Context) {
		for i := 0; i < 3; i++ {
			ctx.RecvInterrupt(TimerIRQ)
		}
	})
	require.NoError(t, err)
	k.Start()
	waitDone(t, h)
}
