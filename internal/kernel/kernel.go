package kernel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/monitoring"
)

var (
	ErrInvalidConfig   = errors.New("kernel: invalid configuration")
	ErrInvalidPriority = errors.New("kernel: priority out of range")
	ErrInvalidState    = errors.New("kernel: invalid state transition")
	ErrInvalidHandle   = errors.New("kernel: zero thread handle")
	ErrThreadExited    = errors.New("kernel: thread has exited")
	ErrNoSuchCPU       = errors.New("kernel: no such cpu")
	ErrWrongCPU        = errors.New("kernel: thread belongs to another cpu")
	ErrArenaFull       = errors.New("kernel: thread arena exhausted")
	ErrHalted          = errors.New("kernel: halted")
	ErrNilEntry        = errors.New("kernel: nil entry function")
)

// Config sizes the kernel.
type Config struct {
	CPUs       int
	StackWords int
	MaxThreads int
	// Tick is the timer interrupt period; zero disables the timer.
	Tick time.Duration
}

// DefaultConfig returns a single-CPU configuration.
func DefaultConfig() Config {
	return Config{
		CPUs:       1,
		StackWords: DefaultStackWords,
		MaxThreads: 1024,
		Tick:       10 * time.Millisecond,
	}
}

func (c Config) validate() error {
	switch {
	case c.CPUs < 1:
		return fmt.Errorf("%d cpus: %w", c.CPUs, ErrInvalidConfig)
	case c.StackWords < 1:
		return fmt.Errorf("%d stack words: %w", c.StackWords, ErrInvalidConfig)
	case c.MaxThreads <= c.CPUs:
		return fmt.Errorf("%d threads cannot hold %d idle threads and a task: %w", c.MaxThreads, c.CPUs, ErrInvalidConfig)
	case c.Tick < 0:
		return fmt.Errorf("tick %s: %w", c.Tick, ErrInvalidConfig)
	}
	return nil
}

// Fault describes a thread whose entry function panicked.
type Fault struct {
	Thread ThreadID
	Name   string
	CPU    int
	Domain heap.DomainID
	Value  any
	Stack  []byte
	At     time.Time
}

// Error formats the fault as an error message.
func (f Fault) Error() string {
	return fmt.Sprintf("thread %s#%d in domain %s panicked: %v", f.Name, f.Thread, f.Domain, f.Value)
}

// Kernel is the set of CPUs sharing one thread arena and shared heap.
type Kernel struct {
	cfg     Config
	arena   *arena
	cpus    []*CPU
	heap    *heap.SharedHeap
	logger  *zap.Logger
	metrics *monitoring.Metrics

	// running counts thread and timer goroutines.
	running sync.WaitGroup

	faultMu sync.RWMutex
	onFault []func(Fault)
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the kernel logger.
func WithLogger(logger *zap.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger.Named("kernel")
		}
	}
}

// WithMetrics enables scheduler metrics.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(k *Kernel) { k.metrics = metrics }
}

// WithHeap installs the shared heap handed to threads via Context.Heap.
func WithHeap(h *heap.SharedHeap) Option {
	return func(k *Kernel) { k.heap = h }
}

// ThreadOption configures a thread at creation.
type ThreadOption func(*threadParams)

type threadParams struct {
	priority Priority
	domain   heap.DomainID
}

// WithPriority sets the initial priority.
func WithPriority(p Priority) ThreadOption {
	return func(tp *threadParams) { tp.priority = p }
}

// WithDomain sets the domain the thread starts in.
func WithDomain(d heap.DomainID) ThreadOption {
	return func(tp *threadParams) { tp.domain = d }
}

// New builds a kernel and the idle thread of every CPU. CPUs do not run
// until Start.
func New(cfg Config, opts ...Option) (*Kernel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg:    cfg,
		arena:  newArena(cfg.MaxThreads),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(k)
	}

	k.cpus = make([]*CPU, cfg.CPUs)
	for i := range k.cpus {
		k.cpus[i] = newCPU(k, i)
	}
	for _, c := range k.cpus {
		h, err := k.CreateOn(c.id, "idle/"+strconv.Itoa(c.id), c.idleLoop)
		if err != nil {
			return nil, fmt.Errorf("create idle thread: %w", err)
		}
		c.irq.Lock()
		c.idle = h.t
		c.irq.Unlock()
	}

	k.logger.Info("Kernel initialized",
		zap.Int("cpus", cfg.CPUs),
		zap.Int("stack_words", cfg.StackWords),
		zap.Int("max_threads", cfg.MaxThreads),
		zap.Duration("tick", cfg.Tick))
	return k, nil
}

// NumCPU returns the number of CPUs.
func (k *Kernel) NumCPU() int { return len(k.cpus) }

// CPU returns CPU i.
func (k *Kernel) CPU(i int) (*CPU, error) {
	if i < 0 || i >= len(k.cpus) {
		return nil, fmt.Errorf("cpu %d of %d: %w", i, len(k.cpus), ErrNoSuchCPU)
	}
	return k.cpus[i], nil
}

// Heap returns the installed shared heap, or nil.
func (k *Kernel) Heap() *heap.SharedHeap { return k.heap }

// Create creates a runnable thread on CPU 0.
func (k *Kernel) Create(name string, entry Entry, opts ...ThreadOption) (Handle, error) {
	return k.CreateOn(0, name, entry, opts...)
}

// CreateOn creates a runnable thread on the given CPU. The thread starts in
// the passive generation and runs once the scheduler reaches it.
func (k *Kernel) CreateOn(cpu int, name string, entry Entry, opts ...ThreadOption) (Handle, error) {
	c, err := k.CPU(cpu)
	if err != nil {
		return Handle{}, err
	}
	if entry == nil {
		return Handle{}, ErrNilEntry
	}
	params := threadParams{domain: heap.KernelDomain}
	for _, opt := range opts {
		opt(&params)
	}
	if params.priority > MaxPriority {
		return Handle{}, fmt.Errorf("priority %d: %w", params.priority, ErrInvalidPriority)
	}

	t, err := k.arena.alloc()
	if err != nil {
		return Handle{}, fmt.Errorf("create thread %q: %w", name, err)
	}
	t.name = name
	t.priority = params.priority
	t.domain = params.domain
	t.affinity = c.id
	t.cpu = c
	t.entry = entry
	t.stack = NewStack(k.cfg.StackWords)
	t.frame = newFrame(t.stack)

	c.irq.Lock()
	if c.halted {
		c.irq.Unlock()
		k.arena.release(t)
		return Handle{}, ErrHalted
	}
	c.threads[t.id] = t
	c.enqueue(t)
	h := c.handleLocked(t)
	c.irq.Unlock()

	c.notify()
	k.metrics.RecordThreadCreated(c.id)
	c.logger.Debug("Thread created",
		zap.String("thread", t.String()),
		zap.Uint8("priority", uint8(params.priority)),
		zap.Stringer("domain", params.domain))
	return h, nil
}

// handleLocked builds a handle for t. c.irq must be held.
func (c *CPU) handleLocked(t *Thread) Handle {
	return Handle{
		cpu:  c,
		t:    t,
		gen:  t.gen.Load(),
		id:   t.id,
		name: t.name,
		done: t.done,
	}
}

// OnFault registers fn to run on the faulting thread after its entry
// function panicked and before the thread is terminated.
func (k *Kernel) OnFault(fn func(Fault)) {
	k.faultMu.Lock()
	defer k.faultMu.Unlock()
	k.onFault = append(k.onFault, fn)
}

func (k *Kernel) reportFault(f Fault) {
	k.faultMu.RLock()
	hooks := append([]func(Fault){}, k.onFault...)
	k.faultMu.RUnlock()

	for _, fn := range hooks {
		fn(f)
	}
}

// Start boots every CPU.
func (k *Kernel) Start() {
	for _, c := range k.cpus {
		c.start(k.cfg.Tick)
	}
	k.logger.Info("Kernel started")
}

// Shutdown halts every CPU and waits for thread goroutines to unwind.
// Threads that never ran are abandoned; a thread busy outside a switch
// point holds Shutdown until it yields, parks or returns.
func (k *Kernel) Shutdown(ctx context.Context) error {
	for _, c := range k.cpus {
		c.stop()
	}

	done := make(chan struct{})
	go func() {
		k.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		k.logger.Info("Kernel stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kernel shutdown: %w", ctx.Err())
	}
}
