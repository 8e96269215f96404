package cluster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakePool records lifecycle calls.
type fakePool struct {
	mu        sync.Mutex
	starts    int
	shutdowns int
	readyErr  error
	startErr  error
}

func (f *fakePool) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakePool) Ready(ctx context.Context) error {
	if f.readyErr != nil {
		return f.readyErr
	}
	return ctx.Err()
}

func (f *fakePool) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return nil
}

func TestLifecycle_TeardownExactlyOnce(t *testing.T) {
	ctx := context.Background()
	pool := &fakePool{}
	lc := NewLifecycle(pool, false)

	if err := lc.Start(ctx, time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lc.Teardown(ctx)
		}()
	}
	wg.Wait()

	if pool.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", pool.shutdowns)
	}
	if !lc.TornDown() {
		t.Error("TornDown() = false after teardown")
	}
}

func TestLifecycle_Keep(t *testing.T) {
	pool := &fakePool{}
	lc := NewLifecycle(pool, true)
	if err := lc.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := lc.Teardown(context.Background()); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if pool.shutdowns != 0 || lc.TornDown() {
		t.Errorf("kept pool was shut down (%d calls)", pool.shutdowns)
	}
}

func TestLifecycle_TeardownWithoutStart(t *testing.T) {
	pool := &fakePool{startErr: errors.New("no hosts")}
	lc := NewLifecycle(pool, false)

	if err := lc.Start(context.Background(), time.Second); err == nil {
		t.Fatal("Start succeeded, want error")
	}
	if err := lc.Teardown(context.Background()); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if pool.shutdowns != 0 {
		t.Errorf("shutdowns = %d for a pool that never started", pool.shutdowns)
	}
}

func TestLifecycle_ReadyFailureStillTearsDown(t *testing.T) {
	pool := &fakePool{readyErr: errors.New("workers did not register")}
	lc := NewLifecycle(pool, false)

	err := lc.Start(context.Background(), time.Second)
	if err == nil || !errors.Is(err, pool.readyErr) {
		t.Fatalf("Start error = %v", err)
	}
	if err := lc.Teardown(context.Background()); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if pool.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", pool.shutdowns)
	}
}

func TestLocalPool_Run(t *testing.T) {
	ctx := context.Background()
	pool := NewLocalPool(2)
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := pool.Ready(ctx); err != nil {
		t.Fatalf("Ready: %v", err)
	}

	var active, peak atomic.Int32
	var done atomic.Int32
	task := func(context.Context) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		done.Add(1)
		return nil
	}

	if err := pool.Run(ctx, task, task, task, task, task); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if done.Load() != 5 {
		t.Errorf("completed = %d, want 5", done.Load())
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
	if submitted, completed := pool.Stats(); submitted != 5 || completed != 5 {
		t.Errorf("Stats = %d/%d, want 5/5", submitted, completed)
	}
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestLocalPool_RunReturnsFirstError(t *testing.T) {
	ctx := context.Background()
	pool := NewLocalPool(4)
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Shutdown(ctx)

	boom := errors.New("boom")
	err := pool.Run(ctx,
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
	)
	if !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want boom", err)
	}
}

func TestLocalPool_SubmitAndShutdown(t *testing.T) {
	ctx := context.Background()
	pool := NewLocalPool(1)

	if err := pool.Submit(func(context.Context) error { return nil }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit before Start = %v, want ErrNotRunning", err)
	}
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := pool.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	var ran atomic.Int32
	failure := errors.New("task failed")
	for i := 0; i < 3; i++ {
		if err := pool.Submit(func(context.Context) error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := pool.Submit(func(context.Context) error { return failure }); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := pool.Shutdown(ctx); !errors.Is(err, failure) {
		t.Errorf("Shutdown = %v, want task failure", err)
	}
	if ran.Load() != 3 {
		t.Errorf("ran = %d, want 3", ran.Load())
	}
	if err := pool.Submit(func(context.Context) error { return nil }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit after Shutdown = %v, want ErrNotRunning", err)
	}
	if err := pool.Run(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Run after Shutdown = %v, want ErrNotRunning", err)
	}
}

func TestLocalPool_ShutdownTimeout(t *testing.T) {
	pool := NewLocalPool(1)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	release := make(chan struct{})
	defer close(release)
	if err := pool.Submit(func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := pool.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown = %v, want deadline exceeded", err)
	}
}

func TestLocalPool_WithLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := NewLocalPool(0)
	if pool.Workers() != 1 {
		t.Errorf("Workers = %d, want 1", pool.Workers())
	}
	lc := NewLifecycle(pool, false)
	defer lc.Teardown(ctx)

	if err := lc.Start(ctx, time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := pool.Run(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := lc.Teardown(ctx); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if err := pool.Run(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Run after teardown = %v, want ErrNotRunning", err)
	}
}
