package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often in-process stores evict expired entries.
const DefaultSweepInterval = 5 * time.Minute

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process CounterStore. Expired entries read as absent
// and are evicted by a background sweep owned by the store.
//
// It is only correct when a single server process handles all traffic for a
// given IP or tenant; use RedisStore otherwise.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	clock     Clock
	newTicker TickerFactory
	interval  time.Duration
	log       *zap.Logger
	sweeper   *sweeper
	closeOnce sync.Once
}

// MemoryOption configures a MemoryStore or HitLog.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	clock     Clock
	newTicker TickerFactory
	interval  time.Duration
	log       *zap.Logger
}

func defaultMemoryOptions() memoryOptions {
	return memoryOptions{
		clock:     SystemClock,
		newTicker: NewRealTicker,
		interval:  DefaultSweepInterval,
		log:       zap.NewNop(),
	}
}

// WithMemoryClock sets the time source.
func WithMemoryClock(c Clock) MemoryOption {
	return func(o *memoryOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMemoryTicker sets how the sweep ticker is created.
func WithMemoryTicker(f TickerFactory) MemoryOption {
	return func(o *memoryOptions) {
		if f != nil {
			o.newTicker = f
		}
	}
}

// WithMemorySweepInterval sets the eviction interval. Zero or negative disables
// the background sweep.
func WithMemorySweepInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) { o.interval = d }
}

// WithMemoryLogger sets the logger used by the sweep.
func WithMemoryLogger(log *zap.Logger) MemoryOption {
	return func(o *memoryOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// NewMemoryStore creates a MemoryStore and starts its sweep. Call Close to stop it.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	o := defaultMemoryOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &MemoryStore{
		entries:   make(map[string]memoryEntry),
		clock:     o.clock,
		newTicker: o.newTicker,
		interval:  o.interval,
		log:       o.log,
	}
	if s.interval > 0 {
		s.sweeper = startSweeper(s.interval, s.newTicker, func() {
			if n := s.Sweep(); n > 0 {
				s.log.Debug("memory_store_swept", zap.Int("evicted", n))
			}
		})
	}
	return s
}

// Get implements CounterStore.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// SetWithTTL implements CounterStore. A non-positive ttl removes the key.
func (s *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// Delete implements CounterStore.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Sweep evicts every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries held, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the background sweep. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(s.sweeper.stop)
	return nil
}
