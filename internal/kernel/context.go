package kernel

import (
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
)

// Entry is a thread body.
type Entry func(ctx *Context)

// Context is the task-local view of the running thread. It is only valid
// on the thread it was handed to.
type Context struct {
	cpu    *CPU
	thread *Thread
}

// CPU returns the CPU the thread runs on.
func (x *Context) CPU() *CPU { return x.cpu }

// Kernel returns the kernel owning the thread.
func (x *Context) Kernel() *Kernel { return x.cpu.kernel }

// Thread returns a handle to the running thread.
func (x *Context) Thread() Handle {
	x.cpu.irq.Lock()
	defer x.cpu.irq.Unlock()
	return x.cpu.handleLocked(x.thread)
}

// Yield gives up the CPU. It reports whether another thread ran before the
// caller was resumed.
func (x *Context) Yield() bool {
	return x.cpu.yield(x.thread)
}

// Checkpoint yields if a timer tick requested a reschedule since the last
// switch.
func (x *Context) Checkpoint() bool {
	return x.cpu.checkpoint(x.thread)
}

// RecvInterrupt parks the thread on irq and returns after a Signal of that
// line made it runnable and the scheduler selected it again.
func (x *Context) RecvInterrupt(irq uint8) {
	x.cpu.park(x.thread, irq)
}

// CurrentDomainID returns the domain the thread executes in.
func (x *Context) CurrentDomainID() heap.DomainID {
	x.cpu.irq.Lock()
	defer x.cpu.irq.Unlock()
	return x.thread.domain
}

// UpdateCurrentDomainID switches the thread to domain id and returns the
// previous one.
func (x *Context) UpdateCurrentDomainID(id heap.DomainID) heap.DomainID {
	x.cpu.irq.Lock()
	defer x.cpu.irq.Unlock()
	old := x.thread.domain
	x.thread.domain = id
	return old
}

// Heap returns the shared heap bound to this thread's current domain. It
// panics with heap.ErrHeapNotInstalled when the kernel has no heap.
func (x *Context) Heap() heap.Heap {
	h := x.cpu.kernel.heap
	if h == nil {
		panic(heap.ErrHeapNotInstalled)
	}
	return h.Bind(x)
}

// Spawn creates a thread on the same CPU in the caller's current domain
// unless opts say otherwise.
func (x *Context) Spawn(name string, entry Entry, opts ...ThreadOption) (Handle, error) {
	opts = append([]ThreadOption{WithDomain(x.CurrentDomainID())}, opts...)
	return x.cpu.kernel.CreateOn(x.cpu.id, name, entry, opts...)
}
