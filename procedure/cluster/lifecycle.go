package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Lifecycle starts a Pool, waits for it, and tears it down exactly once.
//
// Teardown is safe to defer right after NewLifecycle: it does nothing for a
// pool that never started and only the first call reaches the pool.
type Lifecycle struct {
	pool Pool

	// Keep leaves the pool running at teardown.
	Keep bool

	mu       sync.Mutex
	started  bool
	once     sync.Once
	torndown bool
	err      error
}

// NewLifecycle wraps pool.
func NewLifecycle(pool Pool, keep bool) *Lifecycle {
	return &Lifecycle{pool: pool, Keep: keep}
}

// Start launches the pool and waits up to timeout for readiness. A timeout
// of zero waits as long as ctx allows. On a readiness failure the pool has
// been started and still needs Teardown.
func (l *Lifecycle) Start(ctx context.Context, timeout time.Duration) error {
	if err := l.pool.Start(ctx); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()

	readyCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := l.pool.Ready(readyCtx); err != nil {
		return fmt.Errorf("pool not ready: %w", err)
	}
	return nil
}

// Teardown shuts the pool down unless Keep is set. Every call returns the
// result of the first one.
func (l *Lifecycle) Teardown(ctx context.Context) error {
	l.once.Do(func() {
		l.mu.Lock()
		started := l.started
		if started && !l.Keep {
			l.torndown = true
		}
		l.mu.Unlock()
		if !started || l.Keep {
			return
		}
		l.err = l.pool.Shutdown(ctx)
	})
	return l.err
}

// TornDown reports whether Teardown reached the pool.
func (l *Lifecycle) TornDown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.torndown
}
