// Package pool implements the bounded async offload pools that move
// independent per-entity work off the critical tick path: the entity
// tracking pool and the two-phase mob spawn pool.
package pool

import (
	"context"
	"log/slog"
	"sync"
)

// Config holds the parameters shared by the worker pools.
type Config struct {
	// Log is the logger the pool reports through. Defaults to slog.Default().
	Log *slog.Logger
	// Name names the pool in log output.
	Name string
	// Workers is the number of worker goroutines. Defaults to 1.
	Workers int
	// QueueSize bounds the task queue. Defaults to 4096.
	QueueSize int
	// OnOverflow is called when a submission finds the queue full and the
	// task runs on the submitting goroutine instead. May be nil.
	OnOverflow func()
	// Wrap wraps every task execution, typically with a monitor measurement.
	// May be nil.
	Wrap func(task func())
}

func (c Config) withDefaults() Config {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Name == "" {
		c.Name = "pool"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	return c
}

// Pool is a fixed-size worker pool with a bounded queue. Submissions never
// block and are never dropped: when the queue is full the submitting
// goroutine executes the task itself, which bounds queue growth under burst
// load at the cost of a synchronous hiccup for the submitter.
type Pool struct {
	log        *slog.Logger
	name       string
	onOverflow func()
	wrap       func(func())

	mu     sync.RWMutex
	closed bool
	tasks  chan func()

	quit     chan struct{}
	workers  sync.WaitGroup
	shutOnce sync.Once
}

// New creates a Pool and starts its workers.
func New(c Config) *Pool {
	c = c.withDefaults()
	p := &Pool{
		log:        c.Log,
		name:       c.Name,
		onOverflow: c.OnOverflow,
		wrap:       c.Wrap,
		tasks:      make(chan func(), c.QueueSize),
		quit:       make(chan struct{}),
	}
	for i := 0; i < c.Workers; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	p.log.Debug("worker pool started", "pool", p.name, "workers", c.Workers, "queue", c.QueueSize)
	return p
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for {
		select {
		case <-p.quit:
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pool task panicked", "pool", p.name, "panic", r)
		}
	}()
	if p.wrap != nil {
		p.wrap(task)
		return
	}
	task()
}

// Submit hands a task to the pool. If the queue is full, or the pool has
// been shut down, the task executes on the calling goroutine instead; a
// submitted task is never silently lost.
func (p *Pool) Submit(task func()) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.run(task)
		return
	}
	select {
	case p.tasks <- task:
		p.mu.RUnlock()
	default:
		p.mu.RUnlock()
		if p.onOverflow != nil {
			p.onOverflow()
		}
		p.run(task)
	}
}

// QueueLen returns the number of queued, not yet started tasks.
func (p *Pool) QueueLen() int {
	return len(p.tasks)
}

// Shutdown stops the pool: no new work is accepted, in-flight and queued
// work is given until the context deadline to finish, and whatever remains
// queued after that is abandoned. Shutdown is idempotent and returns the
// context error if the grace period expired.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.shutOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			close(p.quit)
			err = ctx.Err()
			p.log.Warn("pool shutdown grace period expired", "pool", p.name, "abandoned", len(p.tasks))
		}
	})
	return err
}
