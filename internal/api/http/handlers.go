package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/domain"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/shared/id"
)

// PhysStats reports physical allocator occupancy.
type PhysStats interface {
	InUse() uintptr
	Live() int
}

// Handlers serves the kernel debug API.
type Handlers struct {
	kernel     *kernel.Kernel
	heap       *heap.SharedHeap
	phys       PhysStats
	supervisor *domain.Supervisor
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer
	logger     *zap.Logger
	bootID     id.BootID
	started    time.Time
}

// NewHandlers creates the debug API handlers. phys, metrics and tracer may
// be nil.
func NewHandlers(
	k *kernel.Kernel,
	h *heap.SharedHeap,
	phys PhysStats,
	sup *domain.Supervisor,
	metrics *monitoring.Metrics,
	tracer *tracing.Tracer,
	logger *zap.Logger,
	bootID id.BootID,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		kernel:     k,
		heap:       h,
		phys:       phys,
		supervisor: sup,
		metrics:    metrics,
		tracer:     tracer,
		logger:     logger,
		bootID:     bootID,
		started:    time.Now(),
	}
}

// Root describes the running kernel.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "isokernel",
		"boot_id": h.bootID,
		"cpus":    h.kernel.NumCPU(),
	})
}

// Health reports liveness. A kernel whose CPUs have all halted is unhealthy.
func (h *Handlers) Health(c *gin.Context) {
	snap := h.kernel.Snapshot()
	halted := 0
	for _, cpu := range snap.CPUs {
		if cpu.Halted {
			halted++
		}
	}

	status, code := "healthy", http.StatusOK
	if halted == len(snap.CPUs) {
		status, code = "halted", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":         status,
		"boot_id":        h.bootID,
		"uptime_seconds": time.Since(h.started).Seconds(),
		"threads":        snap.ThreadsInUse,
	})
}

// Scheduler returns every CPU's scheduler state.
func (h *Handlers) Scheduler(c *gin.Context) {
	c.JSON(http.StatusOK, h.kernel.Snapshot())
}

// CPU returns one CPU's scheduler state.
func (h *Handlers) CPU(c *gin.Context) {
	cpu, ok := h.cpuParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cpu.Snapshot())
}

// Threads lists every live thread.
func (h *Handlers) Threads(c *gin.Context) {
	threads := h.kernel.Threads()
	c.JSON(http.StatusOK, gin.H{
		"threads": threads,
		"count":   len(threads),
	})
}

// Signal raises an interrupt on a CPU and reports how many threads woke.
func (h *Handlers) Signal(c *gin.Context) {
	cpu, ok := h.cpuParam(c)
	if !ok {
		return
	}
	irq, err := strconv.ParseUint(c.Param("irq"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "irq must be between 0 and 255"})
		return
	}

	woken := cpu.Signal(uint8(irq))
	h.logger.Info("Interrupt raised from debug API",
		zap.Int("cpu", cpu.ID()),
		zap.Uint64("irq", irq),
		zap.Int("woken", woken))
	c.JSON(http.StatusOK, gin.H{
		"cpu":   cpu.ID(),
		"irq":   irq,
		"woken": woken,
	})
}

// Heap returns per-domain attribution totals.
func (h *Handlers) Heap(c *gin.Context) {
	usage := h.heap.Usage()

	var objects int
	var bytes uintptr
	for _, u := range usage {
		objects += u.Objects
		bytes += u.Bytes
	}

	resp := gin.H{
		"domains": usage,
		"objects": objects,
		"bytes":   bytes,
	}
	if h.phys != nil {
		resp["phys"] = gin.H{
			"in_use": h.phys.InUse(),
			"live":   h.phys.Live(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Domains lists every domain the supervisor has started.
func (h *Handlers) Domains(c *gin.Context) {
	domains := h.supervisor.List()
	c.JSON(http.StatusOK, gin.H{
		"domains":  domains,
		"count":    len(domains),
		"breakers": h.supervisor.Breakers(),
	})
}

// Domain returns one domain.
func (h *Handlers) Domain(c *gin.Context) {
	domainID, ok := domainParam(c)
	if !ok {
		return
	}
	info, found := h.supervisor.Get(domainID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrUnknownDomain.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// KillDomain kills a running domain and reclaims its heap.
func (h *Handlers) KillDomain(c *gin.Context) {
	domainID, ok := domainParam(c)
	if !ok {
		return
	}

	report, err := h.supervisor.Kill(domainID)
	switch {
	case errors.Is(err, domain.ErrUnknownDomain):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, domain.ErrDomainDead):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Crashes returns the retained crash reports.
func (h *Handlers) Crashes(c *gin.Context) {
	reports := h.supervisor.Reports()
	c.JSON(http.StatusOK, gin.H{
		"crashes": reports,
		"count":   len(reports),
	})
}

// Spans returns the most recent domain-call spans.
func (h *Handlers) Spans(c *gin.Context) {
	var spans []*tracing.Span
	if h.tracer != nil {
		spans = h.tracer.Recent()
	}
	c.JSON(http.StatusOK, gin.H{
		"spans": spans,
		"count": len(spans),
	})
}

// Metrics returns the JSON counterpart of the prometheus metrics.
func (h *Handlers) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"timestamp":      time.Now(),
		"uptime_seconds": time.Since(h.started).Seconds(),
		"counters":       h.metrics.Snapshot(),
	})
}

func (h *Handlers) cpuParam(c *gin.Context) (*kernel.CPU, bool) {
	n, err := strconv.Atoi(c.Param("cpu"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cpu"})
		return nil, false
	}
	cpu, err := h.kernel.CPU(n)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return cpu, true
}

func domainParam(c *gin.Context) (heap.DomainID, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid domain id"})
		return 0, false
	}
	return heap.DomainID(n), true
}
