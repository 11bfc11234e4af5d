package tracing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/shared/id"
)

// SpanID identifies one span.
type SpanID string

// Span records one call across a domain boundary.
type Span struct {
	ID        SpanID            `json:"id"`
	Name      string            `json:"name"`
	Caller    uint64            `json:"caller"`
	Callee    uint64            `json:"callee"`
	StartTime time.Time         `json:"start"`
	Duration  time.Duration     `json:"duration"`
	Tags      map[string]string `json:"tags,omitempty"`
	Error     string            `json:"error,omitempty"`

	tracer *Tracer
	once   sync.Once
}

// Tracer collects finished spans, logs them and keeps the most recent.
type Tracer struct {
	logger *zap.Logger
	spans  chan *Span
	done   chan struct{}
	close  sync.Once

	mu     sync.Mutex
	recent []*Span
	next   int
	full   bool
}

// DefaultRetain is the number of spans kept for Recent.
const DefaultRetain = 256

// New creates a tracer keeping the last retain spans.
func New(logger *zap.Logger, retain int) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retain < 1 {
		retain = DefaultRetain
	}
	t := &Tracer{
		logger: logger.Named("trace"),
		spans:  make(chan *Span, 1000),
		done:   make(chan struct{}),
		recent: make([]*Span, retain),
	}

	go t.collectSpans()

	return t
}

// Start opens a span for a call from caller into callee.
func (t *Tracer) Start(name string, caller, callee uint64) *Span {
	return &Span{
		ID:        SpanID(id.Default().GenerateWithPrefix("span")),
		Name:      name,
		Caller:    caller,
		Callee:    callee,
		StartTime: time.Now(),
		tracer:    t,
	}
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	if s.Tags == nil {
		s.Tags = make(map[string]string)
	}
	s.Tags[key] = value
}

// SetError records an error in the span
func (s *Span) SetError(err error) {
	if err != nil {
		s.Error = err.Error()
	}
}

// Finish closes the span and hands it to the tracer. Later calls are
// ignored.
func (s *Span) Finish() {
	s.once.Do(func() {
		s.Duration = time.Since(s.StartTime)
		if s.tracer != nil {
			s.tracer.submit(s)
		}
	})
}

// submit drops the span if the collector is behind or closed.
func (t *Tracer) submit(span *Span) {
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span", zap.String("span_id", string(span.ID)))
	}
}

func (t *Tracer) collectSpans() {
	for {
		select {
		case span := <-t.spans:
			t.processSpan(span)
		case <-t.done:
			return
		}
	}
}

func (t *Tracer) processSpan(span *Span) {
	fields := []zap.Field{
		zap.String("span_id", string(span.ID)),
		zap.String("operation", span.Name),
		zap.Uint64("caller", span.Caller),
		zap.Uint64("callee", span.Callee),
		zap.Duration("duration", span.Duration),
	}
	if span.Error != "" {
		fields = append(fields, zap.String("error", span.Error))
		t.logger.Warn("span completed with error", fields...)
	} else {
		t.logger.Debug("span completed", fields...)
	}

	t.mu.Lock()
	t.recent[t.next] = span
	t.next = (t.next + 1) % len(t.recent)
	if t.next == 0 {
		t.full = true
	}
	t.mu.Unlock()
}

// Recent returns the retained spans, oldest first.
func (t *Tracer) Recent() []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]*Span(nil), t.recent[:t.next]...)
	}
	out := make([]*Span, 0, len(t.recent))
	out = append(out, t.recent[t.next:]...)
	return append(out, t.recent[:t.next]...)
}

// Close stops the collector. Spans finished afterwards are dropped.
func (t *Tracer) Close() {
	t.close.Do(func() { close(t.done) })
}
