package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
)

const (
	// MaxPriority is the highest thread priority. Priorities run 0..MaxPriority.
	MaxPriority   Priority = 15
	numPriorities          = int(MaxPriority) + 1
)

// Priority orders runnable threads; higher runs first.
type Priority uint8

// ThreadID is the stable arena index of a thread slot.
type ThreadID int32

// nilThread terminates intrusive lists.
const nilThread ThreadID = -1

// State is a thread's scheduling state.
type State int

const (
	StateRunning State = iota
	StateRunnable
	StatePaused
	StateWaiting
	StateExited
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateRunnable:
		return "runnable"
	case StatePaused:
		return "paused"
	case StateWaiting:
		return "waiting"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Thread is a thread control block. Every field below gen is owned by the
// thread's CPU and is only touched with that CPU's interrupts disabled.
type Thread struct {
	id  ThreadID
	gen atomic.Uint32

	name     string
	state    State
	priority Priority
	affinity int
	cpu      *CPU
	domain   heap.DomainID

	entry Entry
	frame Frame
	stack *Stack

	// next links the thread into exactly one scheduler bucket or interrupt
	// wait queue while linked is set.
	next   ThreadID
	linked bool
	// waitIRQ is the interrupt line the thread is parked on, or -1.
	waitIRQ int

	// enqueuedAt is the CPU switch count when the thread last became runnable.
	enqueuedAt uint64
	done       chan struct{}
}

func (t *Thread) String() string {
	return fmt.Sprintf("%s#%d", t.name, t.id)
}

// arena is the fixed table of thread slots shared by all CPUs. Slots are
// addressed by ThreadID so list links never alias thread memory.
type arena struct {
	mu    sync.Mutex
	slots []Thread
	free  []ThreadID
}

func newArena(capacity int) *arena {
	a := &arena{
		slots: make([]Thread, capacity),
		free:  make([]ThreadID, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		a.slots[i].id = ThreadID(i)
		a.slots[i].next = nilThread
		a.free = append(a.free, ThreadID(i))
	}
	return a
}

// alloc claims a free slot and resets it for a new incarnation.
func (a *arena) alloc() (*Thread, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.free) == 0 {
		return nil, fmt.Errorf("all %d thread slots in use: %w", len(a.slots), ErrArenaFull)
	}
	id := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]

	t := &a.slots[id]
	t.gen.Add(1)
	t.name = ""
	t.state = StateRunnable
	t.priority = 0
	t.affinity = 0
	t.cpu = nil
	t.domain = heap.KernelDomain
	t.frame = Frame{}
	t.stack = nil
	t.entry = nil
	t.next = nilThread
	t.linked = false
	t.waitIRQ = -1
	t.enqueuedAt = 0
	t.done = make(chan struct{})
	return t, nil
}

// release returns an exited thread's slot. Handles to it go stale. The
// caller holds the owning CPU's interrupt lock so handle checks observe the
// generation change before any field of the next incarnation.
func (a *arena) release(t *Thread) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t.gen.Add(1)
	t.entry = nil
	t.stack = nil
	t.frame = Frame{}
	a.free = append(a.free, t.id)
}

func (a *arena) get(id ThreadID) *Thread {
	return &a.slots[id]
}

func (a *arena) inUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}
