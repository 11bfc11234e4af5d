package kernel

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/monitoring"
)

// latencyWindow bounds the run-queue latency samples kept per CPU.
const latencyWindow = 512

// CPU is the per-CPU kernel context: scheduler, interrupt wait queues and
// the threads created on it.
type CPU struct {
	id      int
	kernel  *Kernel
	logger  *zap.Logger
	metrics *monitoring.Metrics

	// irq stands in for the interrupt-disable flag. It guards everything
	// below, including the control blocks of this CPU's threads, and is
	// never held across a switch.
	irq      sync.Mutex
	sched    scheduler
	waits    waitQueues
	threads  map[ThreadID]*Thread
	current  *Thread
	idle     *Thread
	flags    uint64
	switches uint64
	resched  bool
	started  bool
	halted   bool
	latency  []float64
	latNext  int

	wake chan struct{}
	halt chan struct{}
}

func newCPU(k *Kernel, id int) *CPU {
	return &CPU{
		id:      id,
		kernel:  k,
		logger:  k.logger.With(zap.Int("cpu", id)),
		metrics: k.metrics,
		sched:   newScheduler(k.arena),
		waits:   newWaitQueues(k.arena),
		threads: make(map[ThreadID]*Thread),
		latency: make([]float64, 0, latencyWindow),
		wake:    make(chan struct{}, 1),
		halt:    make(chan struct{}),
	}
}

// ID returns the CPU index.
func (c *CPU) ID() int { return c.id }

// Signal wakes every thread parked on irq and makes it runnable. It does
// not switch; the woken threads run when the scheduler reaches them.
// Signalling a line nobody waits on does nothing.
func (c *CPU) Signal(irq uint8) int {
	c.irq.Lock()
	n := c.waits.drain(irq, c.enqueue)
	c.irq.Unlock()

	if n > 0 {
		c.notify()
	}
	c.metrics.RecordSignal(c.id, irq, n)
	return n
}

// Tick is the timer interrupt entry point. It wakes TimerIRQ waiters and
// asks the running thread to reschedule at its next checkpoint.
func (c *CPU) Tick() int {
	c.irq.Lock()
	c.resched = true
	n := c.waits.drain(TimerIRQ, c.enqueue)
	c.irq.Unlock()

	if n > 0 {
		c.notify()
	}
	c.metrics.RecordSignal(c.id, TimerIRQ, n)
	return n
}

// Park moves a thread that is not running onto the wait list of irq.
// Running threads park themselves with Context.RecvInterrupt.
func (c *CPU) Park(irq uint8, h Handle) error {
	if h.cpu != c {
		return fmt.Errorf("park %s on cpu %d: %w", h, c.id, ErrWrongCPU)
	}
	t, err := h.lock()
	if err != nil {
		return err
	}
	defer c.irq.Unlock()

	switch t.state {
	case StateRunning:
		return fmt.Errorf("park running thread %s: %w", t, ErrInvalidState)
	case StateRunnable:
		c.sched.remove(t)
	case StateWaiting:
		c.waits.remove(t)
	}
	t.state = StateWaiting
	c.waits.park(irq, t)
	c.metrics.RecordPark(c.id, irq)
	return nil
}

// enqueue makes t runnable. c.irq must be held.
func (c *CPU) enqueue(t *Thread) {
	t.state = StateRunnable
	t.enqueuedAt = c.switches
	c.sched.putThread(t)
	c.metrics.SetRunQueueLength(c.id, c.sched.len())
}

func (c *CPU) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pick dequeues the next thread to run. c.irq must be held.
func (c *CPU) pick() *Thread {
	t := c.sched.next()
	if t == nil {
		return nil
	}
	c.recordLatency(float64(c.switches - t.enqueuedAt))
	c.metrics.SetRunQueueLength(c.id, c.sched.len())
	return t
}

func (c *CPU) recordLatency(ticks float64) {
	if len(c.latency) < latencyWindow {
		c.latency = append(c.latency, ticks)
		return
	}
	c.latency[c.latNext] = ticks
	c.latNext = (c.latNext + 1) % latencyWindow
}

// reschedule is called by the current thread with c.irq held and releases
// it. The outgoing thread is requeued only if it is still Running, so a
// thread that paused or parked itself leaves the CPU for good. It reports
// whether another thread ran.
func (c *CPU) reschedule(prev *Thread) bool {
	next := c.pick()
	if next == nil {
		if prev.state == StateRunning {
			c.irq.Unlock()
			return false
		}
		c.irq.Unlock()
		panic(fmt.Sprintf("kernel: cpu %d has nothing to run after %s", c.id, prev))
	}
	if prev.state == StateRunning {
		c.enqueue(prev)
	}
	c.switchTo(prev, next)
	return true
}

// switchTo hands the CPU from prev to next. It is called with c.irq held
// and releases it before handing over the baton. prev is nil when the
// caller is exiting or booting the CPU; otherwise switchTo returns only
// once prev is selected again.
func (c *CPU) switchTo(prev, next *Thread) {
	if c.halted {
		c.irq.Unlock()
		if prev != nil {
			runtime.Goexit()
		}
		return
	}

	next.state = StateRunning
	c.current = next
	c.switches++

	var resume chan struct{}
	if prev != nil {
		prev.frame.flags = c.flags
		prev.frame.switches++
		resume = prev.frame.resume
	}
	c.flags = next.frame.flags

	start := next.frame.enter(next.stack)
	entry := next.entry
	if start {
		c.kernel.running.Add(1)
	}
	c.irq.Unlock()
	c.metrics.RecordSwitch(c.id)

	if start {
		go c.trampoline(next, entry)
	} else {
		next.frame.resume <- struct{}{}
	}

	if resume == nil {
		return
	}
	select {
	case <-resume:
	case <-c.halt:
		runtime.Goexit()
	}
}

// trampoline is the first frame of every thread. It enables interrupts,
// runs the entry function and terminates the thread when it returns.
func (c *CPU) trampoline(t *Thread, entry Entry) {
	defer c.kernel.running.Done()

	completed := false
	defer func() {
		r := recover()
		if r == nil && !completed {
			// Goexit from a halted CPU.
			c.irq.Lock()
			done := t.done
			c.irq.Unlock()
			close(done)
			return
		}
		reason := "returned"
		if r != nil {
			reason = "panic"
			c.fault(t, r)
		}
		c.exit(t, reason)
	}()

	c.setInterrupts(true)
	entry(&Context{cpu: c, thread: t})
	completed = true
}

func (c *CPU) setInterrupts(enabled bool) {
	c.irq.Lock()
	defer c.irq.Unlock()
	if enabled {
		c.flags |= flagIF
	} else {
		c.flags &^= flagIF
	}
}

func (c *CPU) fault(t *Thread, r any) {
	c.irq.Lock()
	f := Fault{
		Thread: t.id,
		Name:   t.name,
		CPU:    c.id,
		Domain: t.domain,
		Value:  r,
		Stack:  debug.Stack(),
		At:     time.Now(),
	}
	c.irq.Unlock()

	c.logger.Error("Thread panicked",
		zap.String("thread", f.Name),
		zap.Stringer("domain", f.Domain),
		zap.Any("panic", r))
	c.kernel.reportFault(f)
}

// exit terminates the current thread t and schedules onward without
// requeueing it.
func (c *CPU) exit(t *Thread, reason string) {
	c.irq.Lock()
	t.state = StateExited
	done := t.done
	name := t.String()
	delete(c.threads, t.id)
	c.kernel.arena.release(t)
	c.metrics.RecordThreadExited(c.id, reason)

	next := c.pick()
	if next == nil {
		c.irq.Unlock()
		panic(fmt.Sprintf("kernel: cpu %d has nothing to run after %s exited", c.id, name))
	}
	close(done)
	c.logger.Debug("Thread exited", zap.String("thread", name), zap.String("reason", reason))
	c.switchTo(nil, next)
}

func (c *CPU) yield(t *Thread) bool {
	c.irq.Lock()
	if c.current != t {
		c.irq.Unlock()
		return false
	}
	c.resched = false
	c.metrics.RecordYield(c.id)
	return c.reschedule(t)
}

func (c *CPU) checkpoint(t *Thread) bool {
	c.irq.Lock()
	if !c.resched || c.current != t {
		c.irq.Unlock()
		return false
	}
	c.resched = false
	c.metrics.RecordYield(c.id)
	return c.reschedule(t)
}

func (c *CPU) park(t *Thread, irq uint8) {
	c.irq.Lock()
	t.state = StateWaiting
	c.waits.park(irq, t)
	c.metrics.RecordPark(c.id, irq)
	c.reschedule(t)
}

// idleLoop runs whenever nothing else is runnable and sleeps until a
// thread is enqueued.
func (c *CPU) idleLoop(ctx *Context) {
	for {
		if ctx.Yield() {
			continue
		}
		select {
		case <-c.wake:
		case <-c.halt:
			runtime.Goexit()
		}
	}
}

// start boots the CPU on its highest priority runnable thread.
func (c *CPU) start(tick time.Duration) {
	c.irq.Lock()
	if c.started || c.halted {
		c.irq.Unlock()
		return
	}
	c.started = true
	if tick > 0 {
		c.kernel.running.Add(1)
		go c.runTimer(tick)
	}
	next := c.pick()
	if next == nil {
		c.irq.Unlock()
		return
	}
	c.logger.Info("CPU started", zap.String("thread", next.String()))
	c.switchTo(nil, next)
}

func (c *CPU) runTimer(tick time.Duration) {
	defer c.kernel.running.Done()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Tick()
		case <-c.halt:
			return
		}
	}
}

// stop halts the CPU. Threads blocked in a switch unwind; a thread that is
// executing keeps going until its next switch.
func (c *CPU) stop() {
	c.irq.Lock()
	defer c.irq.Unlock()
	if c.halted {
		return
	}
	c.halted = true
	close(c.halt)
}
