package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics (debug API)
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Scheduler metrics
	ContextSwitches *prometheus.CounterVec
	Yields          *prometheus.CounterVec
	RunQueueLength  *prometheus.GaugeVec
	ThreadsCreated  *prometheus.CounterVec
	ThreadsExited   *prometheus.CounterVec

	// Interrupt wait queue metrics
	Parks   *prometheus.CounterVec
	Signals *prometheus.CounterVec
	Woken   *prometheus.CounterVec

	// Shared heap metrics
	HeapAllocs      *prometheus.CounterVec
	HeapLiveBytes   *prometheus.GaugeVec
	HeapMismatches  *prometheus.CounterVec
	HeapTransfers   prometheus.Counter
	HeapReclaimed   prometheus.Counter
	HeapAllocErrors prometheus.Counter

	// Domain metrics
	DomainsActive prometheus.Gauge
	DomainCrashes *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	ContextSwitches int64 `json:"context_switches"`
	Parks           int64 `json:"parks"`
	Signals         int64 `json:"signals"`
	LiveBytes       int64 `json:"live_bytes"`
	ReclaimedBytes  int64 `json:"reclaimed_bytes"`
	Crashes         int64 `json:"domain_deaths"`
}

// NewMetrics creates a metrics collector registered on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a metrics collector registered on reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isokernel_http_requests_total",
				Help: "Total number of debug API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "isokernel_http_request_duration_seconds",
				Help:    "Debug API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		ContextSwitches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isokernel_context_switches_total",
				Help: "Total number of context switches",
			},
			[]string{"cpu"},
		),
		Yields: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isokernel_yields_total",
				Help: "Total number of voluntary yields",
			},
			[]string{"cpu"},
		),
		RunQueueLength: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "isokernel_run_queue_length",
				Help: "Number of runnable threads across both generations",
			},
			[]string{"cpu"},
		),
		ThreadsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isokernel_threads_created_total",
				Help: "Total number of threads created",
			},
			[]string{"cpu"},
		),
		ThreadsExited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isokernel_threads_exited_total",
				Help: "Total number of threads terminated",
			},
			[]string{"cpu", "reason"},
		),

		Parks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isokernel_irq_parks_total",
				Help: "Total number of threads parked on interrupt wait queues",
			},
			[]string{"cpu", "irq"},
		),
		Signals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isokernel_irq_signals_total",
				Help: "Total number of interrupt wait queue signals",
			},
			[]string{"cpu", "irq"},
		),
		Woken: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isokernel_irq_woken_total",
				Help: "Total number of threads woken by interrupt signals",
			},
			[]string{"cpu", "irq"},
		),

		HeapAllocs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isokernel_heap_allocs_total",
				Help: "Total number of shared heap allocations",
			},
			[]string{"domain"},
		),
		HeapLiveBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "isokernel_heap_live_bytes",
				Help: "Live shared heap bytes attributed to a domain",
			},
			[]string{"domain"},
		),
		HeapMismatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isokernel_heap_mismatches_total",
				Help: "Dealloc or change_domain calls that matched no attribution record",
			},
			[]string{"op"},
		),
		HeapTransfers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "isokernel_heap_transfers_total",
				Help: "Total number of ownership transfers between domains",
			},
		),
		HeapReclaimed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "isokernel_heap_reclaimed_bytes_total",
				Help: "Bytes reclaimed from dead domains",
			},
		),
		HeapAllocErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "isokernel_heap_alloc_errors_total",
				Help: "Shared heap allocations refused by the physical allocator",
			},
		),

		DomainsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "isokernel_domains_active",
				Help: "Number of running domains",
			},
		),
		DomainCrashes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isokernel_domain_deaths_total",
				Help: "Total number of domain deaths",
			},
			[]string{"reason"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "isokernel_uptime_seconds",
				Help: "Kernel uptime in seconds",
			},
		),
	}

	return m
}

// RunUptime updates the uptime metric until stop is closed
func (m *Metrics) RunUptime(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		case <-stop:
			return
		}
	}
}

// RecordHTTPRequest records a debug API request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSwitch records a context switch on cpu
func (m *Metrics) RecordSwitch(cpu int) {
	if m == nil {
		return
	}
	m.ContextSwitches.WithLabelValues(strconv.Itoa(cpu)).Inc()
	m.mu.Lock()
	m.snapshot.ContextSwitches++
	m.mu.Unlock()
}

// RecordYield records a voluntary yield on cpu
func (m *Metrics) RecordYield(cpu int) {
	if m == nil {
		return
	}
	m.Yields.WithLabelValues(strconv.Itoa(cpu)).Inc()
}

// SetRunQueueLength sets the runnable thread count for cpu
func (m *Metrics) SetRunQueueLength(cpu, n int) {
	if m == nil {
		return
	}
	m.RunQueueLength.WithLabelValues(strconv.Itoa(cpu)).Set(float64(n))
}

// RecordThreadCreated records a thread creation on cpu
func (m *Metrics) RecordThreadCreated(cpu int) {
	if m == nil {
		return
	}
	m.ThreadsCreated.WithLabelValues(strconv.Itoa(cpu)).Inc()
}

// RecordThreadExited records a thread termination on cpu
func (m *Metrics) RecordThreadExited(cpu int, reason string) {
	if m == nil {
		return
	}
	m.ThreadsExited.WithLabelValues(strconv.Itoa(cpu), reason).Inc()
}

// RecordPark records a thread parked on irq
func (m *Metrics) RecordPark(cpu int, irq uint8) {
	if m == nil {
		return
	}
	m.Parks.WithLabelValues(strconv.Itoa(cpu), strconv.Itoa(int(irq))).Inc()
	m.mu.Lock()
	m.snapshot.Parks++
	m.mu.Unlock()
}

// RecordSignal records a signal of irq that woke n threads
func (m *Metrics) RecordSignal(cpu int, irq uint8, n int) {
	if m == nil {
		return
	}
	c, i := strconv.Itoa(cpu), strconv.Itoa(int(irq))
	m.Signals.WithLabelValues(c, i).Inc()
	if n > 0 {
		m.Woken.WithLabelValues(c, i).Add(float64(n))
	}
	m.mu.Lock()
	m.snapshot.Signals++
	m.mu.Unlock()
}

// RecordAlloc records a shared heap allocation of size bytes for domain
func (m *Metrics) RecordAlloc(domain uint64, size uintptr) {
	if m == nil {
		return
	}
	d := strconv.FormatUint(domain, 10)
	m.HeapAllocs.WithLabelValues(d).Inc()
	m.HeapLiveBytes.WithLabelValues(d).Add(float64(size))
	m.mu.Lock()
	m.snapshot.LiveBytes += int64(size)
	m.mu.Unlock()
}

// RecordDealloc records a shared heap free of size bytes for domain
func (m *Metrics) RecordDealloc(domain uint64, size uintptr) {
	if m == nil {
		return
	}
	m.HeapLiveBytes.WithLabelValues(strconv.FormatUint(domain, 10)).Sub(float64(size))
	m.mu.Lock()
	m.snapshot.LiveBytes -= int64(size)
	m.mu.Unlock()
}

// RecordTransfer records an ownership transfer of size bytes
func (m *Metrics) RecordTransfer(from, to uint64, size uintptr) {
	if m == nil {
		return
	}
	m.HeapTransfers.Inc()
	m.HeapLiveBytes.WithLabelValues(strconv.FormatUint(from, 10)).Sub(float64(size))
	m.HeapLiveBytes.WithLabelValues(strconv.FormatUint(to, 10)).Add(float64(size))
}

// RecordMismatch records a heap call that matched no record
func (m *Metrics) RecordMismatch(op string) {
	if m == nil {
		return
	}
	m.HeapMismatches.WithLabelValues(op).Inc()
}

// RecordAllocError records an allocation the physical allocator refused
func (m *Metrics) RecordAllocError() {
	if m == nil {
		return
	}
	m.HeapAllocErrors.Inc()
}

// RecordReclaim records bytes reclaimed from a dead domain
func (m *Metrics) RecordReclaim(domain uint64, size uintptr) {
	if m == nil {
		return
	}
	m.HeapReclaimed.Add(float64(size))
	m.HeapLiveBytes.DeleteLabelValues(strconv.FormatUint(domain, 10))
	m.mu.Lock()
	m.snapshot.LiveBytes -= int64(size)
	m.snapshot.ReclaimedBytes += int64(size)
	m.mu.Unlock()
}

// SetDomainsActive sets the number of running domains
func (m *Metrics) SetDomainsActive(count int) {
	if m == nil {
		return
	}
	m.DomainsActive.Set(float64(count))
}

// RecordDomainDeath records a domain death by cause ("panic", "crash", "killed")
func (m *Metrics) RecordDomainDeath(reason string) {
	if m == nil {
		return
	}
	m.DomainCrashes.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.Crashes++
	m.mu.Unlock()
}

// Snapshot returns the current JSON snapshot
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
