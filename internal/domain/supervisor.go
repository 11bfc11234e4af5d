package domain

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/kernel"
)

var (
	ErrUnknownDomain = errors.New("domain: unknown domain")
	ErrDomainDead    = errors.New("domain: domain is not running")
)

// State is a domain's lifecycle state.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateDead    State = "dead"
)

// Info describes a domain.
type Info struct {
	ID       heap.DomainID   `json:"id"`
	Name     string          `json:"name"`
	State    State           `json:"state"`
	Thread   kernel.ThreadID `json:"thread"`
	CPU      int             `json:"cpu"`
	Restarts int             `json:"restarts"`
	Previous heap.DomainID   `json:"previous,omitempty"`
	Started  time.Time       `json:"started"`
	Usage    heap.Usage      `json:"usage"`
}

// CrashReport records a domain death and what was reclaimed.
type CrashReport struct {
	ID          string        `json:"id"`
	Domain      heap.DomainID `json:"domain"`
	Name        string        `json:"name"`
	Cause       string        `json:"cause"`
	Reason      string        `json:"reason"`
	Objects     int           `json:"objects"`
	Bytes       uintptr       `json:"bytes"`
	At          time.Time     `json:"at"`
	RestartedAs heap.DomainID `json:"restarted_as,omitempty"`
}

// Config controls restarts and report retention.
type Config struct {
	Restart      bool
	MaxFailures  int
	ResetTimeout time.Duration
	MaxReports   int
}

// DefaultConfig returns restarts disabled and a 3-crash breaker.
func DefaultConfig() Config {
	return Config{
		MaxFailures:  3,
		ResetTimeout: 30 * time.Second,
		MaxReports:   128,
	}
}

// SpawnOption configures a spawned domain.
type SpawnOption func(*spawnSpec)

type spawnSpec struct {
	name     string
	entry    kernel.Entry
	cpu      int
	priority kernel.Priority
}

// OnCPU places the domain's thread on cpu.
func OnCPU(cpu int) SpawnOption {
	return func(s *spawnSpec) { s.cpu = cpu }
}

// WithPriority sets the domain thread's priority.
func WithPriority(p kernel.Priority) SpawnOption {
	return func(s *spawnSpec) { s.priority = p }
}

type record struct {
	info    Info
	spec    spawnSpec
	handle  kernel.Handle
	attempt *resilience.Attempt
}

// Supervisor owns the domain registry.
type Supervisor struct {
	kernel  *kernel.Kernel
	heap    *heap.SharedHeap
	cfg     Config
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	nextID   heap.DomainID
	domains  map[heap.DomainID]*record
	breakers map[string]*resilience.Breaker
	reports  []CrashReport
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger.Named("domain")
		}
	}
}

// WithMetrics enables domain metrics.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(s *Supervisor) { s.metrics = metrics }
}

// NewSupervisor creates a supervisor and subscribes it to kernel faults.
func NewSupervisor(k *kernel.Kernel, h *heap.SharedHeap, cfg Config, opts ...Option) *Supervisor {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	s := &Supervisor{
		kernel:   k,
		heap:     h,
		cfg:      cfg,
		logger:   zap.NewNop(),
		nextID:   heap.KernelDomain + 1,
		domains:  make(map[heap.DomainID]*record),
		breakers: make(map[string]*resilience.Breaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	k.OnFault(s.onFault)
	return s
}

// Spawn starts a new domain running entry.
func (s *Supervisor) Spawn(name string, entry kernel.Entry, opts ...SpawnOption) (Info, error) {
	if entry == nil {
		return Info{}, fmt.Errorf("spawn domain %q: %w", name, kernel.ErrNilEntry)
	}
	spec := spawnSpec{name: name, entry: entry}
	for _, opt := range opts {
		opt(&spec)
	}

	attempt, err := s.breaker(name).Admit()
	if err != nil {
		return Info{}, fmt.Errorf("spawn domain %q: %w", name, err)
	}
	return s.start(spec, attempt, 0, heap.KernelDomain)
}

func (s *Supervisor) start(spec spawnSpec, attempt *resilience.Attempt, restarts int, previous heap.DomainID) (Info, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	rec := &record{
		info: Info{
			ID:       id,
			Name:     spec.name,
			State:    StateRunning,
			CPU:      spec.cpu,
			Restarts: restarts,
			Previous: previous,
			Started:  time.Now(),
		},
		spec:    spec,
		attempt: attempt,
	}
	s.domains[id] = rec
	s.mu.Unlock()

	h, err := s.kernel.CreateOn(spec.cpu, spec.name, s.wrap(id, spec.entry),
		kernel.WithDomain(id), kernel.WithPriority(spec.priority))
	if err != nil {
		s.mu.Lock()
		delete(s.domains, id)
		s.mu.Unlock()
		attempt.Fail()
		return Info{}, fmt.Errorf("spawn domain %q: %w", spec.name, err)
	}

	s.mu.Lock()
	rec.handle = h
	rec.info.Thread = h.ID()
	info := rec.info
	s.mu.Unlock()

	s.metrics.SetDomainsActive(s.active())
	s.logger.Info("Domain spawned",
		zap.Stringer("domain", id),
		zap.String("name", spec.name),
		zap.Int("cpu", spec.cpu),
		zap.Int("restarts", restarts))
	return info, nil
}

// wrap reclaims the domain when its entry returns normally. Panics are
// handled by onFault before the thread terminates.
func (s *Supervisor) wrap(id heap.DomainID, entry kernel.Entry) kernel.Entry {
	return func(ctx *kernel.Context) {
		entry(ctx)
		s.exited(id)
	}
}

func (s *Supervisor) exited(id heap.DomainID) {
	objects, bytes := s.heap.DropDomain(id)

	s.mu.Lock()
	rec, ok := s.domains[id]
	if !ok || rec.info.State != StateRunning {
		s.mu.Unlock()
		return
	}
	rec.info.State = StateExited
	attempt := rec.attempt
	s.mu.Unlock()

	attempt.Succeed()
	s.metrics.SetDomainsActive(s.active())
	s.logger.Info("Domain exited",
		zap.Stringer("domain", id),
		zap.Int("objects", objects),
		zap.Uint64("bytes", uint64(bytes)))
}

func (s *Supervisor) onFault(f kernel.Fault) {
	if _, err := s.fail(f.Domain, "panic", f.Value); err != nil && !errors.Is(err, ErrUnknownDomain) {
		s.logger.Debug("Fault in domain that is not running", zap.Stringer("domain", f.Domain), zap.Error(err))
	}
}

// Kill stops a running domain and reclaims its allocations. Its thread is
// paused and never scheduled again.
func (s *Supervisor) Kill(id heap.DomainID) (CrashReport, error) {
	s.mu.Lock()
	rec, ok := s.domains[id]
	var h kernel.Handle
	if ok {
		h = rec.handle
	}
	s.mu.Unlock()
	if !ok {
		return CrashReport{}, fmt.Errorf("kill domain %s: %w", id, ErrUnknownDomain)
	}

	if err := h.SetState(kernel.StatePaused); err != nil && !errors.Is(err, kernel.ErrThreadExited) {
		s.logger.Warn("Failed to pause killed domain", zap.Stringer("domain", id), zap.Error(err))
	}
	return s.fail(id, "killed", "killed by supervisor")
}

// Crashed marks a domain dead after a contained crash, such as a panic
// caught at a proxy boundary.
func (s *Supervisor) Crashed(id heap.DomainID, reason any) {
	if _, err := s.fail(id, "crash", reason); err != nil {
		s.logger.Debug("Crash report for domain that is not running", zap.Stringer("domain", id), zap.Error(err))
	}
}

// Alive reports whether the domain is running.
func (s *Supervisor) Alive(id heap.DomainID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.domains[id]
	return ok && rec.info.State == StateRunning
}

func (s *Supervisor) fail(id heap.DomainID, cause string, reason any) (CrashReport, error) {
	s.mu.Lock()
	rec, ok := s.domains[id]
	if !ok {
		s.mu.Unlock()
		return CrashReport{}, ErrUnknownDomain
	}
	if rec.info.State != StateRunning {
		s.mu.Unlock()
		return CrashReport{}, fmt.Errorf("domain %s is %s: %w", id, rec.info.State, ErrDomainDead)
	}
	rec.info.State = StateDead
	spec := rec.spec
	restarts := rec.info.Restarts
	attempt := rec.attempt
	s.mu.Unlock()

	objects, bytes := s.heap.DropDomain(id)
	attempt.Fail()

	report := CrashReport{
		ID:      uuid.NewString(),
		Domain:  id,
		Name:    spec.name,
		Cause:   cause,
		Reason:  fmt.Sprint(reason),
		Objects: objects,
		Bytes:   bytes,
		At:      time.Now(),
	}
	s.metrics.RecordDomainDeath(cause)
	s.logger.Warn("Domain died",
		zap.Stringer("domain", id),
		zap.String("name", spec.name),
		zap.String("cause", cause),
		zap.String("reason", report.Reason),
		zap.Int("objects", objects),
		zap.Uint64("bytes", uint64(bytes)))

	if s.cfg.Restart {
		report.RestartedAs = s.restart(spec, restarts+1, id)
	}

	s.mu.Lock()
	s.reports = append(s.reports, report)
	if s.cfg.MaxReports > 0 && len(s.reports) > s.cfg.MaxReports {
		s.reports = s.reports[len(s.reports)-s.cfg.MaxReports:]
	}
	s.mu.Unlock()

	s.metrics.SetDomainsActive(s.active())
	return report, nil
}

func (s *Supervisor) restart(spec spawnSpec, restarts int, previous heap.DomainID) heap.DomainID {
	attempt, err := s.breaker(spec.name).Admit()
	if err != nil {
		s.logger.Warn("Domain not restarted", zap.String("name", spec.name), zap.Error(err))
		return heap.KernelDomain
	}
	info, err := s.start(spec, attempt, restarts, previous)
	if err != nil {
		s.logger.Error("Domain restart failed", zap.String("name", spec.name), zap.Error(err))
		return heap.KernelDomain
	}
	return info.ID
}

func (s *Supervisor) breaker(name string) *resilience.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[name]
	if !ok {
		maxFailures := uint32(s.cfg.MaxFailures)
		b = resilience.New(name, resilience.Settings{
			Interval: s.cfg.ResetTimeout,
			Timeout:  s.cfg.ResetTimeout,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to resilience.State) {
				s.logger.Info("Domain breaker state changed",
					zap.String("name", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
			},
		})
		s.breakers[name] = b
	}
	return b
}

func (s *Supervisor) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.domains {
		if rec.info.State == StateRunning {
			n++
		}
	}
	return n
}

// Get returns one domain.
func (s *Supervisor) Get(id heap.DomainID) (Info, bool) {
	s.mu.Lock()
	rec, ok := s.domains[id]
	var info Info
	if ok {
		info = rec.info
	}
	s.mu.Unlock()

	if ok {
		info.Usage = s.heap.Usage()[id]
	}
	return info, ok
}

// List returns every domain ordered by id.
func (s *Supervisor) List() []Info {
	usage := s.heap.Usage()

	s.mu.Lock()
	out := make([]Info, 0, len(s.domains))
	for _, rec := range s.domains {
		info := rec.info
		info.Usage = usage[info.ID]
		out = append(out, info)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reports returns the retained crash reports, oldest first.
func (s *Supervisor) Reports() []CrashReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CrashReport(nil), s.reports...)
}

// Breakers returns the breaker state of every domain name.
func (s *Supervisor) Breakers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State().String()
	}
	return out
}
