package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/collegeadmin/pkg/observability"
)

var (
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Pool runs tasks on a fixed set of workers. Each task gets its own timeout
// and panics are logged instead of crashing the process.
type Pool struct {
	name    string
	timeout time.Duration
	logger  *observability.Logger

	mu     sync.RWMutex
	closed bool
	work   chan queued
	wg     sync.WaitGroup
}

type queued struct {
	ctx  context.Context
	name string
	fn   Task
}

// NewPool starts workers goroutines reading from a queue of the given depth.
func NewPool(name string, workers, queue int, timeout time.Duration, logger *observability.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	p := &Pool{
		name:    name,
		timeout: timeout,
		logger:  logger.WithField("pool", name),
		work:    make(chan queued, queue),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues fn without blocking. The task context keeps the values of
// ctx but not its cancellation, so work outlives the request that queued it.
func (p *Pool) Submit(ctx context.Context, name string, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.work <- queued{ctx: context.WithoutCancel(ctx), name: name, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued tasks until ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.work)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s pool did not drain: %w", p.name, ctx.Err())
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for q := range p.work {
		p.run(q)
	}
}

func (p *Pool) run(q queued) {
	ctx := q.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	logger := p.logger.WithField("task", q.name)
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("background task panicked")
		}
	}()

	if err := q.fn(ctx); err != nil {
		logger.WithError(err).Warn("background task failed")
	}
}
