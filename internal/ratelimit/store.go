package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is reported when a limiter has no usable counter store.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// CounterStore is the key/value capability the limiter is written against.
// Implementations must be safe for concurrent use.
//
// There is no compare-and-swap: a limiter reads a window, mutates it and
// writes it back, so concurrent requests for the same key may both observe
// the same count and slightly over-admit. If that ever needs to be tightened,
// add an atomic increment-with-expiry primitive here instead of teaching
// callers about CAS.
type CounterStore interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetWithTTL stores value under key; the key expires after ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Ticker is the subset of time.Ticker used by background tasks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// sweeper runs fn on every tick until stopped. It is owned by the store that
// started it.
type sweeper struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startSweeper(interval time.Duration, newTicker TickerFactory, fn func()) *sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	s := &sweeper{cancel: cancel, done: make(chan struct{})}
	t := newTicker(interval)
	go func() {
		defer close(s.done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C():
				fn()
			}
		}
	}()
	return s
}

// stop cancels the loop and waits for it to exit. Safe on a nil sweeper.
func (s *sweeper) stop() {
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}
