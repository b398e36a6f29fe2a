package optimizer

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"autoplan/internal/metrics"
	"autoplan/internal/model"
)

var (
	ErrQueueFull  = errors.New("optimizer queue is full")
	ErrPoolClosed = errors.New("optimizer pool is closed")
)

// Pool runs requests on a fixed number of in-process workers.
type Pool struct {
	ctx   context.Context
	run   RunFunc
	queue chan model.OptimizeRequest
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines draining a queue of the given depth. ctx is handed to
// every run; cancelling it makes in-flight searches stop early.
func NewPool(ctx context.Context, workers, depth int, run RunFunc) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}
	p := &Pool{ctx: ctx, run: run, queue: make(chan model.OptimizeRequest, depth)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for req := range p.queue {
		metrics.SolverQueueDepth.Dec()
		if err := p.run(p.ctx, req); err != nil {
			log.Error().Err(err).Str("planning_id", req.PlanningID).Msg("optimizer run failed")
		}
	}
}

// Dispatch enqueues req without waiting for a free worker.
func (p *Pool) Dispatch(ctx context.Context, req model.OptimizeRequest) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- req:
		metrics.SolverQueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued runs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
