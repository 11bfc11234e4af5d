package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/rref"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Kernel.CPUs = 2
	cfg.Kernel.StackWords = 64
	cfg.Kernel.MaxThreads = 16
	cfg.Heap.MaxBytes = 1 << 20
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := NewServer(cfg, WithRegistry(prometheus.NewRegistry()), WithLogger(logging.NewNop()))
	require.NoError(t, err)
	return s
}

func shutdown(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Kernel.CPUs = 0
	_, err := NewServer(cfg, WithRegistry(prometheus.NewRegistry()), WithLogger(logging.NewNop()))
	assert.Error(t, err)
}

func TestServerBootsKernelFromConfig(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.Start()
	defer shutdown(t, s)

	assert.Equal(t, 2, s.Kernel().NumCPU())
	assert.NotEmpty(t, s.BootID())
	assert.NotNil(t, s.Tracer())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServerDomainsShareHeap(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.Start()
	defer shutdown(t, s)

	done := make(chan struct{})
	info, err := s.Supervisor().Spawn("worker", func(ctx *kernel.Context) {
		defer close(done)
		ref, err := rref.New(ctx.Heap(), 42)
		if err != nil {
			panic(err)
		}
		ref.Drop()
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("domain did not run")
	}
	require.Eventually(t, func() bool {
		got, ok := s.Supervisor().Get(info.ID)
		return ok && got.State == "exited"
	}, 2*time.Second, time.Millisecond)
}

func TestSampleDomainsCallThroughProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Kernel.CPUs = 1
	cfg.Kernel.Tick = time.Millisecond
	cfg.Supervisor.Samples = true
	s := newTestServer(t, cfg)
	s.Start()
	defer shutdown(t, s)

	require.Len(t, s.Supervisor().List(), 2)
	require.Eventually(t, func() bool { return len(s.Tracer().Recent()) > 0 }, 5*time.Second, 5*time.Millisecond)

	span := s.Tracer().Recent()[0]
	assert.Equal(t, "blockstore", span.Name)
	assert.Empty(t, span.Error)

	var store heap.DomainID
	for _, info := range s.Supervisor().List() {
		if info.Name == "blockstore" {
			store = info.ID
		}
	}
	require.NotZero(t, store)
	assert.Equal(t, uint64(store), span.Callee)

	_, err := s.Supervisor().Kill(store)
	require.NoError(t, err)
	assert.False(t, s.Supervisor().Alive(store))
}

func TestMetricsAreCompressed(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.Start()
	defer shutdown(t, s)

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}

func TestShutdownWithoutRun(t *testing.T) {
	s := newTestServer(t, testConfig())
	shutdown(t, s)
}
