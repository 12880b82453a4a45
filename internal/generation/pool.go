package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"backend-shaperun/internal/metrics"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var (
	ErrPoolClosed     = errors.New("worker pool is closed")
	ErrPoolNotStarted = errors.New("worker pool not started")
	ErrQueueFull      = errors.New("worker pool queue is full")
)

// Job runs on a pool worker. The context is cancelled when the pool stops.
type Job func(ctx context.Context)

// Pool runs jobs on a fixed set of workers fed by a bounded queue.
type Pool struct {
	taskCh  chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
	mu      sync.Mutex
	logger  log.Logger
}

func NewPool(queueSize int, logger log.Logger) *Pool {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		taskCh: make(chan Job, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}
	if workerCount <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", workerCount)
	}

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.work(id)
		}(i)
	}

	p.started = true
	return nil
}

func (p *Pool) work(id int) {
	for job := range p.taskCh {
		metrics.GenerationQueueDepth.Dec()
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(p.logger).Log("msg", "generation job panicked", "worker", id, "panic", fmt.Sprint(r))
		}
	}()
	job(p.ctx)
}

// Submit queues job without blocking. It fails with ErrQueueFull when
// every worker is busy and the queue is at capacity.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}

	select {
	case p.taskCh <- job:
		metrics.GenerationQueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels the pool context and waits for workers to drain the
// queue. Jobs still queued see an already cancelled context.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.taskCh)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
