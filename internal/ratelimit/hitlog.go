package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type hitRecord struct {
	window time.Duration
	hits   []time.Time
}

// HitLog is a simple in-process per-key counter that keeps the admission
// timestamps of each key and prunes anything older than the window on every
// call. The background sweep drops keys with no hits left so idle IPs do not
// accumulate.
type HitLog struct {
	mu      sync.Mutex
	records map[string]*hitRecord

	clock     Clock
	log       *zap.Logger
	sweeper   *sweeper
	closeOnce sync.Once
}

// NewHitLog creates a HitLog and starts its sweep. Call Close to stop it.
func NewHitLog(opts ...MemoryOption) *HitLog {
	o := defaultMemoryOptions()
	for _, opt := range opts {
		opt(&o)
	}
	h := &HitLog{
		records: make(map[string]*hitRecord),
		clock:   o.clock,
		log:     o.log,
	}
	if o.interval > 0 {
		h.sweeper = startSweeper(o.interval, o.newTicker, func() {
			if n := h.Sweep(); n > 0 {
				h.log.Debug("hit_log_swept", zap.Int("evicted", n))
			}
		})
	}
	return h
}

// Allow records a hit for key and reports whether it is within limit hits
// per window. Rejected calls are not recorded.
func (h *HitLog) Allow(key string, limit int, window time.Duration) bool {
	now := h.clock.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.records[key]
	if !ok {
		rec = &hitRecord{}
		h.records[key] = rec
	}
	rec.window = window
	rec.hits = pruneHits(rec.hits, now.Add(-window))
	if len(rec.hits) >= limit {
		return false
	}
	rec.hits = append(rec.hits, now)
	return true
}

// Count returns the number of hits for key still inside its window.
func (h *HitLog) Count(key string) int {
	now := h.clock.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[key]
	if !ok {
		return 0
	}
	rec.hits = pruneHits(rec.hits, now.Add(-rec.window))
	return len(rec.hits)
}

// Forget drops every hit recorded for key.
func (h *HitLog) Forget(key string) {
	h.mu.Lock()
	delete(h.records, key)
	h.mu.Unlock()
}

// Sweep prunes every key and removes the ones left empty. It returns how many
// keys were removed.
func (h *HitLog) Sweep() int {
	now := h.clock.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for k, rec := range h.records {
		rec.hits = pruneHits(rec.hits, now.Add(-rec.window))
		if len(rec.hits) == 0 {
			delete(h.records, k)
			removed++
		}
	}
	return removed
}

// Keys reports how many keys are tracked.
func (h *HitLog) Keys() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// Close stops the background sweep. It is safe to call more than once.
func (h *HitLog) Close() error {
	h.closeOnce.Do(h.sweeper.stop)
	return nil
}

// pruneHits drops timestamps at or before cutoff. hits is ordered oldest first.
func pruneHits(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
