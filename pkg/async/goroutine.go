package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrPoolShutdown is returned by Submit after Shutdown
	ErrPoolShutdown = errors.New("worker pool shut down")

	// ErrQueueFull is returned by Submit when the backlog is at capacity
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of work. Its context carries the pool's per-task timeout.
type Task func(ctx context.Context) error

// PoolOptions configures a WorkerPool
type PoolOptions struct {
	Name    string
	Workers int
	// QueueSize bounds the backlog; Submit fails fast past it
	QueueSize int
	Timeout   time.Duration
}

// WorkerPool runs tasks on a fixed set of workers. Submit never blocks:
// callers that cannot afford to wait get ErrQueueFull and decide what to
// drop.
type WorkerPool struct {
	opts    PoolOptions
	logger  logrus.FieldLogger
	tasks   chan Task
	pending atomic.Int64

	mu     sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewWorkerPool starts the workers. They stop when ctx is done or after
// Shutdown drains the queue.
func NewWorkerPool(ctx context.Context, opts PoolOptions, logger logrus.FieldLogger) *WorkerPool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &WorkerPool{
		opts:   opts,
		logger: logger.WithField("pool", opts.Name),
		tasks:  make(chan Task, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.work(i)
	}
	return p
}

// Submit enqueues a task
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.ctx.Err() != nil {
		return ErrPoolShutdown
	}
	select {
	case p.tasks <- task:
		p.pending.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending is the number of queued or running tasks
func (p *WorkerPool) Pending() int64 {
	return p.pending.Load()
}

// Shutdown stops intake and waits up to timeout for the backlog. Tasks still
// running at the deadline have their contexts canceled.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("%s: %d tasks abandoned after %v", p.opts.Name, p.Pending(), timeout)
		}
		p.cancel()
	})
	return err
}

func (p *WorkerPool) work(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(id, task)
			p.pending.Add(-1)
		}
	}
}

func (p *WorkerPool) run(id int, task Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.opts.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"worker": id,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("Recovered panic in worker")
		}
	}()

	if err := task(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.WithError(err).WithField("worker", id).Warn("Task failed")
	}
}
