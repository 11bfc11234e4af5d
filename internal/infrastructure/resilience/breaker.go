package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyAttempts = errors.New("too many attempts while half-open")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// MaxAttempts is the number of trial attempts admitted while half-open
	MaxAttempts uint32
	// Interval is the cyclic period of the closed state to clear counts.
	// Attempts that outlive it no longer count against the breaker.
	Interval time.Duration
	// Timeout is the period of the open state until transitioning to half-open
	Timeout time.Duration
	// ReadyToTrip is called with counts when an attempt fails in closed state
	ReadyToTrip func(counts Counts) bool
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from State, to State)
}

// Counts holds the statistics for the current generation
type Counts struct {
	Attempts             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker admits attempts of a supervised unit, such as successive runs of
// a restarted domain, and stops admitting them once too many fail.
type Breaker struct {
	name     string
	settings Settings

	mu         sync.Mutex
	state      State
	counts     Counts
	expiry     time.Time
	generation uint64
}

// New creates a new circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.MaxAttempts == 0 {
		settings.MaxAttempts = 1
	}
	if settings.Interval == 0 {
		settings.Interval = 60 * time.Second
	}
	if settings.Timeout == 0 {
		settings.Timeout = 60 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures > 5
		}
	}

	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
		expiry:   time.Now().Add(settings.Interval),
	}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.refresh(time.Now())
}

// Counts returns a copy of the internal counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// Attempt is one admitted run. Exactly one of Succeed or Fail takes effect.
type Attempt struct {
	breaker    *Breaker
	generation uint64
	once       sync.Once
}

// Succeed records the attempt as successful.
func (a *Attempt) Succeed() { a.finish(true) }

// Fail records the attempt as failed.
func (a *Attempt) Fail() { a.finish(false) }

func (a *Attempt) finish(success bool) {
	a.once.Do(func() { a.breaker.record(a.generation, success) })
}

// Admit starts an attempt if the breaker accepts one.
func (b *Breaker) Admit() (*Attempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.refresh(time.Now())
	switch {
	case state == StateOpen:
		return nil, ErrCircuitOpen
	case state == StateHalfOpen && b.counts.Attempts >= b.settings.MaxAttempts:
		return nil, ErrTooManyAttempts
	}

	b.counts.Attempts++
	return &Attempt{breaker: b, generation: b.generation}, nil
}

// Execute runs req as a single attempt. A panic in req fails the attempt
// and is re-raised.
func (b *Breaker) Execute(req func() error) error {
	attempt, err := b.Admit()
	if err != nil {
		return err
	}

	defer func() {
		if e := recover(); e != nil {
			attempt.Fail()
			panic(e)
		}
	}()

	err = req()
	attempt.finish(err == nil)
	return err
}

// record applies an attempt's outcome unless its generation has passed.
func (b *Breaker) record(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.refresh(now)
	if generation != b.generation {
		return
	}

	if success {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.MaxAttempts {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	if state == StateHalfOpen || b.settings.ReadyToTrip(b.counts) {
		b.setState(StateOpen, now)
	}
}

// refresh applies time-driven transitions and returns the current state.
func (b *Breaker) refresh(now time.Time) State {
	switch b.state {
	case StateClosed:
		if b.expiry.Before(now) {
			b.newGeneration(now.Add(b.settings.Interval))
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state

	switch state {
	case StateClosed:
		b.newGeneration(now.Add(b.settings.Interval))
	case StateOpen:
		b.newGeneration(now.Add(b.settings.Timeout))
	case StateHalfOpen:
		b.newGeneration(time.Time{})
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, state)
	}
}

func (b *Breaker) newGeneration(expiry time.Time) {
	b.generation++
	b.counts = Counts{}
	b.expiry = expiry
}
