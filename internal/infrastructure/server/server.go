package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AgentOS/isokernel/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/domain"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/shared/id"
)

// Server owns a booted kernel and the debug API in front of it.
type Server struct {
	handler    http.Handler
	http       *http.Server
	kernel     *kernel.Kernel
	heap       *heap.SharedHeap
	supervisor *domain.Supervisor
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer
	bootID     id.BootID
	stop       chan struct{}
}

// Option configures a Server.
type Option func(*options)

type options struct {
	registry *prometheus.Registry
	logger   *logging.Logger
}

// WithRegistry registers metrics on reg instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewServer boots the kernel described by cfg. The kernel is created but
// its CPUs do not run until Run or Start.
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	bootID := id.NewBootID()
	logger.Logger = logger.With(zap.Stringer("boot_id", bootID))
	logger.Info("Booting isolation kernel",
		zap.Int("cpus", cfg.Kernel.CPUs),
		zap.Int("max_threads", cfg.Kernel.MaxThreads),
		zap.Int("stack_words", cfg.Kernel.StackWords),
		zap.Duration("tick", cfg.Kernel.Tick),
		zap.Uint64("heap_max_bytes", cfg.Heap.MaxBytes),
	)

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if o.registry != nil {
		registerer, gatherer = o.registry, o.registry
	}
	metrics := monitoring.NewMetricsWith(registerer)

	slab := heap.NewSlabAllocator(uintptr(cfg.Heap.MaxBytes))
	shared := heap.New(slab,
		heap.WithLogger(logger.Logger),
		heap.WithMetrics(metrics))

	k, err := kernel.New(kernel.Config{
		CPUs:       cfg.Kernel.CPUs,
		StackWords: cfg.Kernel.StackWords,
		MaxThreads: cfg.Kernel.MaxThreads,
		Tick:       cfg.Kernel.Tick,
	},
		kernel.WithLogger(logger.Logger),
		kernel.WithMetrics(metrics),
		kernel.WithHeap(shared))
	if err != nil {
		return nil, fmt.Errorf("failed to create kernel: %w", err)
	}

	sup := domain.NewSupervisor(k, shared, domain.Config{
		Restart:      cfg.Supervisor.Restart,
		MaxFailures:  cfg.Supervisor.MaxFailures,
		ResetTimeout: cfg.Supervisor.ResetTimeout,
		MaxReports:   cfg.Supervisor.MaxReports,
	},
		domain.WithLogger(logger.Logger),
		domain.WithMetrics(metrics))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger.Component("api")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	tracer := tracing.New(logger.Logger, cfg.Tracing.Retain)

	handlers := apihttp.NewHandlers(k, shared, slab, sup, metrics, tracer, logger.Component("api"), bootID)
	level := logger.Level()
	apihttp.Register(router, handlers, gatherer, &level)

	stop := make(chan struct{})
	router.GET("/debug/stream", ws.NewHandler(k, logger.Component("ws"), stop).HandleConnection)

	// Streams are hijacked connections and bypass compression.
	gzip, err := gzhttp.NewWrapper(gzhttp.MinSize(512))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip wrapper: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/debug/stream", router)
	mux.Handle("/", gzip(router))

	return &Server{
		handler: mux,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		kernel:     k,
		heap:       shared,
		supervisor: sup,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
		tracer:     tracer,
		bootID:     bootID,
		stop:       stop,
	}, nil
}

// Kernel returns the booted kernel.
func (s *Server) Kernel() *kernel.Kernel { return s.kernel }

// Supervisor returns the domain supervisor.
func (s *Server) Supervisor() *domain.Supervisor { return s.supervisor }

// Tracer records domain-call spans. Pass it to proxies with
// proxy.WithTracer so their calls show up in the debug API.
func (s *Server) Tracer() *tracing.Tracer { return s.tracer }

// Handler returns the debug API handler.
func (s *Server) Handler() http.Handler { return s.handler }

// BootID identifies this boot.
func (s *Server) BootID() id.BootID { return s.bootID }

// Start runs the kernel's CPUs without serving HTTP, then spawns the
// sample domains if configured.
func (s *Server) Start() {
	s.kernel.Start()
	go s.metrics.RunUptime(s.stop)
	s.logger.Info("Kernel started", zap.Int("cpus", s.kernel.NumCPU()))

	if s.config.Supervisor.Samples {
		if err := s.spawnSamples(); err != nil {
			s.logger.Error("Failed to spawn sample domains", zap.Error(err))
		}
	}
}

// Run starts the kernel and serves the debug API until Shutdown.
func (s *Server) Run() error {
	s.Start()
	s.logger.Info("Starting debug API", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug API: %w", err)
	}
	return nil
}

// Shutdown stops the debug API, then halts every CPU.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down")
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("debug API: %w", err))
	}
	if err := s.kernel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("kernel: %w", err))
	}
	s.tracer.Close()

	usage := s.heap.Usage()
	live := 0
	for _, u := range usage {
		live += u.Objects
	}
	s.logger.Info("Kernel halted",
		zap.Int("domains", len(s.supervisor.List())),
		zap.Int("live_objects", live))
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
