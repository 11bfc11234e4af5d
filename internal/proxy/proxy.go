package proxy

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/rref"
)

var (
	ErrNotBound      = errors.New("proxy: callee domain not bound")
	ErrDomainDead    = errors.New("proxy: callee domain is dead")
	ErrCalleeCrashed = errors.New("proxy: callee domain crashed")
)

// Call runs fn in callee's domain and restores the caller's domain when fn
// returns or panics.
func Call(h heap.Heap, callee heap.DomainID, fn func()) {
	caller := h.UpdateCurrentDomainID(callee)
	defer h.UpdateCurrentDomainID(caller)
	fn()
}

// CallWith is Call for a callee that borrows ref. Ownership of ref moves to
// the callee for the call and back to the caller afterwards.
func CallWith[T any](h heap.Heap, callee heap.DomainID, ref *rref.RRef[T], fn func(*rref.RRef[T])) {
	caller := h.UpdateCurrentDomainID(callee)
	ref.MoveTo(callee)
	defer func() {
		if ref.Valid() {
			ref.MoveTo(caller)
		}
		h.UpdateCurrentDomainID(caller)
	}()
	fn(ref)
}

// Monitor tracks domain liveness for a Proxy and is told when a callee
// crashes.
type Monitor interface {
	Alive(domain heap.DomainID) bool
	Crashed(domain heap.DomainID, reason any)
}

// Proxy guards calls into one callee domain. A panic in the callee is
// contained: the monitor is told, the caller's domain is restored and the
// call returns ErrCalleeCrashed. Later calls fail with ErrDomainDead.
type Proxy struct {
	name    string
	callee  heap.DomainID
	bound   bool
	monitor Monitor
	tracer  *tracing.Tracer
	logger  *zap.Logger
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the proxy logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Proxy) {
		if logger != nil {
			p.logger = logger.Named("proxy")
		}
	}
}

// WithMonitor sets the liveness monitor.
func WithMonitor(m Monitor) Option {
	return func(p *Proxy) { p.monitor = m }
}

// WithTracer records a span for every call.
func WithTracer(t *tracing.Tracer) Option {
	return func(p *Proxy) { p.tracer = t }
}

// New creates an unbound proxy for the named interface.
func New(name string, opts ...Option) *Proxy {
	p := &Proxy{name: name, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Bind points the proxy at the domain implementing its interface.
func (p *Proxy) Bind(callee heap.DomainID) {
	p.callee = callee
	p.bound = true
}

// Callee returns the bound domain.
func (p *Proxy) Callee() (heap.DomainID, bool) {
	return p.callee, p.bound
}

func (p *Proxy) check() error {
	if !p.bound {
		return fmt.Errorf("%s: %w", p.name, ErrNotBound)
	}
	if p.monitor != nil && !p.monitor.Alive(p.callee) {
		return fmt.Errorf("%s in domain %s: %w", p.name, p.callee, ErrDomainDead)
	}
	return nil
}

// Invoke runs fn in the callee's domain on the calling thread.
func (p *Proxy) Invoke(h heap.Heap, fn func() error) (err error) {
	if err := p.check(); err != nil {
		return err
	}
	caller := h.UpdateCurrentDomainID(p.callee)
	p.logger.Debug("Domain call",
		zap.String("interface", p.name),
		zap.Stringer("caller", caller),
		zap.Stringer("callee", p.callee))
	span := p.startSpan(caller)

	defer func() {
		h.UpdateCurrentDomainID(caller)
		if r := recover(); r != nil {
			err = p.crashed(r)
		}
		p.finishSpan(span, err)
	}()
	return fn()
}

// InvokeWith runs fn in p's callee domain with ownership of ref moved to
// the callee. If the callee crashes under a monitor, ref is reclaimed with
// the callee's domain and is no longer valid.
func InvokeWith[T any](p *Proxy, h heap.Heap, ref *rref.RRef[T], fn func(*rref.RRef[T]) error) (err error) {
	if err := p.check(); err != nil {
		return err
	}
	caller := h.UpdateCurrentDomainID(p.callee)
	ref.MoveTo(p.callee)
	span := p.startSpan(caller)
	if span != nil {
		span.SetTag("ref", ref.Layout().String())
	}

	defer func() {
		h.UpdateCurrentDomainID(caller)
		defer func() { p.finishSpan(span, err) }()
		if r := recover(); r != nil {
			err = p.crashed(r)
			if p.monitor != nil {
				ref.Forget()
				return
			}
		}
		if ref.Valid() {
			ref.MoveTo(caller)
		}
	}()
	return fn(ref)
}

func (p *Proxy) startSpan(caller heap.DomainID) *tracing.Span {
	if p.tracer == nil {
		return nil
	}
	return p.tracer.Start(p.name, uint64(caller), uint64(p.callee))
}

func (p *Proxy) finishSpan(span *tracing.Span, err error) {
	if span == nil {
		return
	}
	span.SetError(err)
	span.Finish()
}

func (p *Proxy) crashed(reason any) error {
	p.logger.Warn("Callee domain crashed",
		zap.String("interface", p.name),
		zap.Stringer("callee", p.callee),
		zap.Any("reason", reason))
	if p.monitor != nil {
		p.monitor.Crashed(p.callee, reason)
	}
	return fmt.Errorf("%s in domain %s: %w: %v", p.name, p.callee, ErrCalleeCrashed, reason)
}
