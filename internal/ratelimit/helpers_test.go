package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errStoreDown = errors.New("store down")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualTicker fires only when the test sends on ch.
type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

func (t *manualTicker) factory() TickerFactory {
	return func(time.Duration) Ticker { return t }
}

// failingStore errors on every call.
type failingStore struct {
	calls int
	mu    sync.Mutex
}

func (s *failingStore) record() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *failingStore) Get(context.Context, string) (string, bool, error) {
	s.record()
	return "", false, errStoreDown
}

func (s *failingStore) SetWithTTL(context.Context, string, string, time.Duration) error {
	s.record()
	return errStoreDown
}

func (s *failingStore) Delete(context.Context, string) error {
	s.record()
	return errStoreDown
}

// writeFailStore reads from an inner store but fails every write.
type writeFailStore struct {
	CounterStore
}

func (writeFailStore) SetWithTTL(context.Context, string, string, time.Duration) error {
	return errStoreDown
}

// blockingStore blocks until the context is done.
type blockingStore struct{}

func (blockingStore) Get(ctx context.Context, _ string) (string, bool, error) {
	<-ctx.Done()
	return "", false, ctx.Err()
}

func (blockingStore) SetWithTTL(ctx context.Context, _, _ string, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingStore) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestLimiter(clock *fakeClock) (*Limiter, *MemoryStore) {
	store := NewMemoryStore(WithMemoryClock(clock), WithMemorySweepInterval(0))
	return New(store, WithClock(clock)), store
}

func testPolicy(limit int, window time.Duration) Policy {
	return Policy{Name: "test", Limit: limit, Window: window, Namespace: "test"}
}
