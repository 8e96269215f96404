// Package cluster manages the worker pool a procedure may use for parallel
// work inside its steps.
//
// The engine never talks to a pool. The caller starts the pool, waits until
// it acknowledges readiness, runs the procedure, and tears the pool down
// exactly once afterwards, whether the run succeeded or not. Lifecycle
// packages that sequence.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotRunning is returned when work is submitted to a pool that was not
	// started or has been shut down.
	ErrNotRunning = errors.New("pool is not running")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("pool already started")
)

// Pool is a set of workers with an explicit lifecycle.
type Pool interface {
	// Start launches the workers. It does not wait for them.
	Start(ctx context.Context) error

	// Ready blocks until every worker has acknowledged, or ctx is done.
	Ready(ctx context.Context) error

	// Shutdown stops the workers, waiting for in-flight work until ctx is
	// done.
	Shutdown(ctx context.Context) error
}

// Runner runs a batch of tasks and waits for all of them. The first error
// cancels the context handed to the remaining tasks.
type Runner interface {
	Run(ctx context.Context, tasks ...func(ctx context.Context) error) error
}

// LocalPool is an in-process Pool with a fixed number of worker slots.
//
//	pool := cluster.NewLocalPool(4)
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Shutdown(ctx)
//	err := pool.Run(ctx, task1, task2, task3)
type LocalPool struct {
	workers int
	slots   chan struct{}

	mu      sync.Mutex
	running bool
	stopped bool
	ready   chan struct{}
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
}

// NewLocalPool creates a pool with the given number of worker slots. Values
// below one mean one.
func NewLocalPool(workers int) *LocalPool {
	if workers < 1 {
		workers = 1
	}
	return &LocalPool{
		workers: workers,
		slots:   make(chan struct{}, workers),
		ready:   make(chan struct{}),
	}
}

// Workers returns the number of worker slots.
func (p *LocalPool) Workers() int { return p.workers }

// Start implements Pool. Tasks submitted later run under a context derived
// from ctx.
func (p *LocalPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return ErrAlreadyStarted
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.group = new(errgroup.Group)
	p.running = true

	// Every slot starts free, so the pool is ready as soon as it exists.
	close(p.ready)
	return nil
}

// Ready implements Pool.
func (p *LocalPool) Ready(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d workers: %w", p.workers, ctx.Err())
	}
}

// Submit queues task in the background. Its error, if any, is returned by
// Shutdown.
func (p *LocalPool) Submit(task func(ctx context.Context) error) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	group, ctx := p.group, p.ctx
	p.mu.Unlock()

	p.submitted.Add(1)
	group.Go(func() error {
		defer p.completed.Add(1)
		return p.runTask(ctx, task)
	})
	return nil
}

// Run implements Runner. At most Workers tasks run at once across Run and
// Submit.
func (p *LocalPool) Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		p.submitted.Add(1)
		g.Go(func() error {
			defer p.completed.Add(1)
			return p.runTask(gctx, task)
		})
	}
	return g.Wait()
}

func (p *LocalPool) runTask(ctx context.Context, task func(ctx context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()
	return task(ctx)
}

// Stats returns how many tasks were submitted and how many have finished.
func (p *LocalPool) Stats() (submitted, completed int64) {
	return p.submitted.Load(), p.completed.Load()
}

// Shutdown implements Pool. It stops accepting work and waits for submitted
// tasks. If ctx ends first, the tasks' context is cancelled and ctx.Err is
// returned. Shutting down a pool that never started is a no-op.
func (p *LocalPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stopped = true
	group, cancel := p.group, p.cancel
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		cancel()
		return err
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
