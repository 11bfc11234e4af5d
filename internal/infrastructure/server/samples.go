package server

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/domain"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/heap"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/proxy"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/rref"
)

const (
	// storeIRQ is never raised; the store parks on it between calls.
	storeIRQ uint8 = 64
	// sampleEvery is the number of timer ticks between client calls.
	sampleEvery = 100
	storeSlots  = 64
)

// sampleStore is the block log kept by the "blockstore" sample domain. The
// ring lives in the store's domain, so killing the store reclaims it.
type sampleStore struct {
	mu     sync.Mutex
	domain heap.DomainID
	log    *rref.Deque[uint64]
}

func (s *sampleStore) publish(domain heap.DomainID, log *rref.Deque[uint64]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domain, s.log = domain, log
}

func (s *sampleStore) current() (heap.DomainID, *rref.Deque[uint64]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domain, s.log
}

// spawnSamples starts a block store domain and a client domain that writes
// to it through a traced proxy once every sampleEvery ticks.
func (s *Server) spawnSamples() error {
	logger := s.logger.Component("samples")
	store := &sampleStore{}

	_, err := s.supervisor.Spawn("blockstore", func(ctx *kernel.Context) {
		log, err := rref.NewDeque[uint64](ctx.Heap(), storeSlots)
		if err != nil {
			panic(err)
		}
		store.publish(ctx.CurrentDomainID(), log)
		for {
			ctx.RecvInterrupt(storeIRQ)
		}
	})
	if err != nil {
		return err
	}

	p := proxy.New("blockstore",
		proxy.WithLogger(logger),
		proxy.WithMonitor(s.supervisor),
		proxy.WithTracer(s.tracer))

	_, err = s.supervisor.Spawn("client", func(ctx *kernel.Context) {
		var seq uint64
		for ticks := 1; ; ticks++ {
			ctx.RecvInterrupt(kernel.TimerIRQ)
			if ticks%sampleEvery != 0 {
				continue
			}
			callee, log := store.current()
			if log == nil {
				continue
			}
			p.Bind(callee)

			seq++
			block, err := rref.New(ctx.Heap(), seq)
			if err != nil {
				logger.Warn("Sample block allocation failed", zap.Error(err))
				continue
			}
			err = proxy.InvokeWith(p, ctx.Heap(), block, func(ref *rref.RRef[uint64]) error {
				log.PushBack(ref.Get())
				return nil
			})
			if err != nil && !errors.Is(err, proxy.ErrDomainDead) {
				logger.Warn("Sample write failed", zap.Error(err))
			}
			block.Drop()
		}
	}, domain.WithPriority(1))
	return err
}
