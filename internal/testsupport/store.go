package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"cardmint/internal/config"
	"cardmint/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup. A
// PostgreSQL store is emptied first so tests start from a known state.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...queue.Option) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	if store.Driver() == config.DriverPostgres {
		if _, err := store.ClearAll(context.Background()); err != nil {
			t.Fatalf("store.ClearAll: %v", err)
		}
	}
	return store
}

// NewJob creates a queued job for tests using the provided store.
func NewJob(t testing.TB, store *queue.Store, input queue.NewJob) *queue.ScanJob {
	t.Helper()

	job, err := store.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}

// Clock is a manually advanced time source for lease expiry tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
