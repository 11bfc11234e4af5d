package kernel

import (
	"fmt"

	"go.uber.org/zap"
)

// Handle is the thread capability. It stays valid until the thread exits;
// after that every mutating call returns ErrThreadExited.
type Handle struct {
	cpu  *CPU
	t    *Thread
	gen  uint32
	id   ThreadID
	name string
	done <-chan struct{}
}

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d", h.name, h.id)
}

// ID returns the thread's arena index. Indices are reused after exit.
func (h Handle) ID() ThreadID { return h.id }

// Name returns the name given at creation.
func (h Handle) Name() string { return h.name }

// CPU returns the CPU the thread was created on.
func (h Handle) CPU() *CPU { return h.cpu }

// Done is closed when the thread exits.
func (h Handle) Done() <-chan struct{} { return h.done }

// lock acquires the owning CPU's interrupt lock and returns the live
// control block. On error the lock is not held.
func (h Handle) lock() (*Thread, error) {
	if h.t == nil {
		return nil, ErrInvalidHandle
	}
	h.cpu.irq.Lock()
	if h.t.gen.Load() != h.gen {
		h.cpu.irq.Unlock()
		return nil, fmt.Errorf("thread %s: %w", h, ErrThreadExited)
	}
	return h.t, nil
}

// State returns the current scheduling state.
func (h Handle) State() State {
	t, err := h.lock()
	if err != nil {
		return StateExited
	}
	defer h.cpu.irq.Unlock()
	return t.state
}

// Priority returns the current priority.
func (h Handle) Priority() (Priority, error) {
	t, err := h.lock()
	if err != nil {
		return 0, err
	}
	defer h.cpu.irq.Unlock()
	return t.priority, nil
}

// SetPriority changes the thread's priority. A queued thread moves to the
// new bucket of the passive generation.
func (h Handle) SetPriority(p Priority) error {
	if p > MaxPriority {
		return fmt.Errorf("priority %d: %w", p, ErrInvalidPriority)
	}
	t, err := h.lock()
	if err != nil {
		return err
	}
	defer h.cpu.irq.Unlock()

	if t.state == StateRunnable && h.cpu.sched.remove(t) {
		t.priority = p
		h.cpu.sched.putThread(t)
		return nil
	}
	t.priority = p
	return nil
}

// SetAffinity records the CPU the thread prefers. Threads do not migrate;
// affinity is applied when a thread is created with Kernel.CreateOn.
func (h Handle) SetAffinity(cpu int) error {
	if cpu < 0 || cpu >= len(h.cpu.kernel.cpus) {
		return fmt.Errorf("affinity %d: %w", cpu, ErrNoSuchCPU)
	}
	t, err := h.lock()
	if err != nil {
		return err
	}
	defer h.cpu.irq.Unlock()

	t.affinity = cpu
	h.cpu.logger.Info("Thread affinity set",
		zap.String("thread", t.String()),
		zap.Int("affinity", cpu))
	return nil
}

// SetState pauses or resumes the thread. Pausing unlinks it from the run
// queue or its interrupt wait list; a running thread leaves the CPU at its
// next switch. Resuming a paused or waiting thread makes it runnable.
func (h Handle) SetState(s State) error {
	t, err := h.lock()
	if err != nil {
		return err
	}
	defer h.cpu.irq.Unlock()

	switch s {
	case StatePaused:
		if t == h.cpu.idle {
			return fmt.Errorf("pause idle thread: %w", ErrInvalidState)
		}
		switch t.state {
		case StateRunnable:
			h.cpu.sched.remove(t)
		case StateWaiting:
			h.cpu.waits.remove(t)
		}
		t.state = StatePaused
	case StateRunnable:
		switch {
		case t.state == StatePaused && h.cpu.current == t:
			t.state = StateRunning
			return nil
		case t.state == StatePaused:
			h.cpu.enqueue(t)
		case t.state == StateWaiting:
			h.cpu.waits.remove(t)
			h.cpu.enqueue(t)
		default:
			return nil
		}
		h.cpu.notify()
	default:
		return fmt.Errorf("set state %s on %s: %w", s, t, ErrInvalidState)
	}
	return nil
}

// Yield asks the thread to give up its CPU at its next checkpoint. A
// thread yields immediately through Context.Yield.
func (h Handle) Yield() error {
	t, err := h.lock()
	if err != nil {
		return err
	}
	defer h.cpu.irq.Unlock()

	if h.cpu.current == t {
		h.cpu.resched = true
	}
	return nil
}
