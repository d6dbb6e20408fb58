// Package ratelimit implements per-identifier admission control over a
// pluggable counter store.
//
// Windows are fixed-length and start at the first request for an identifier
// (fixed window with rolling reset), so every identifier has its own window
// boundary. Store failures never deny a request: the limiter fails open and
// reports the failure through logs, metrics and the trace span.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultCallTimeout bounds each store call made by a check.
const DefaultCallTimeout = 250 * time.Millisecond

const tracerName = "github.com/benvon/crm-ratelimit/internal/ratelimit"

// Limiter makes admission decisions against a CounterStore.
type Limiter struct {
	store       CounterStore
	clock       Clock
	log         *zap.Logger
	tracer      trace.Tracer
	callTimeout time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger used to report store failures.
func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// WithCallTimeout bounds each store call. Zero disables the bound and leaves
// the caller's context deadline in charge.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Limiter) { l.callTimeout = d }
}

// New creates a Limiter. A nil store is allowed and makes every check fail
// open, which is how a shared cache that could not be constructed behaves.
func New(store CounterStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:       store,
		clock:       SystemClock,
		log:         zap.NewNop(),
		tracer:      otel.Tracer(tracerName),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check admits or denies one request for identifier under policy, keyed as
// "namespace:identifier".
func (l *Limiter) Check(ctx context.Context, identifier string, policy Policy) Decision {
	return l.check(ctx, Key(policy.Namespace, "", identifier), "", policy.Limit, policy)
}

// Reset deletes the window for identifier in namespace. A missing key is not
// an error. A limiter without a store reports ErrStoreUnavailable.
func (l *Limiter) Reset(ctx context.Context, identifier, namespace string) error {
	key := Key(namespace, "", identifier)
	if l.store == nil {
		l.log.Warn("ratelimit_reset_failed", zap.String("key", key), zap.Error(ErrStoreUnavailable))
		return fmt.Errorf("reset %s: %w", key, ErrStoreUnavailable)
	}

	callCtx, cancel := l.callContext(ctx)
	defer cancel()
	if err := l.store.Delete(callCtx, key); err != nil {
		l.log.Warn("ratelimit_reset_failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("reset %s: %w", key, err)
	}
	l.log.Info("ratelimit_reset", zap.String("key", key))
	return nil
}

func (l *Limiter) check(ctx context.Context, key, scope string, limit int, policy Policy) Decision {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "ratelimit.check", trace.WithAttributes(
		attribute.String("ratelimit.policy", policy.Name),
		attribute.String("ratelimit.namespace", policy.Namespace),
		attribute.String("ratelimit.scope", scopeLabel(scope)),
		attribute.Int("ratelimit.limit", limit),
	))
	defer span.End()

	now := l.clock.Now()
	d, err := l.evaluate(ctx, key, limit, policy.Window, now)
	result := resultAllowed
	switch {
	case err != nil:
		result = resultFailOpen
		storeErrorsTotal.WithLabelValues(policy.Namespace).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "counter store unavailable")
		l.log.Warn("ratelimit_store_unavailable_failing_open",
			zap.String("namespace", policy.Namespace),
			zap.String("scope", scopeLabel(scope)),
			zap.Error(err),
		)
		d = failOpen(limit, policy.Window, now)
	case !d.Success:
		result = resultDenied
	}

	span.SetAttributes(
		attribute.String("ratelimit.result", result),
		attribute.Int("ratelimit.remaining", d.Remaining),
	)
	decisionsTotal.WithLabelValues(policy.Namespace, scopeLabel(scope), result).Inc()
	checkDuration.WithLabelValues(scopeLabel(scope)).Observe(time.Since(start).Seconds())
	return d
}

// evaluate runs one read-modify-write of the window stored under key.
// Concurrent callers on the same key can interleave between Get and
// SetWithTTL; the resulting over-admission is accepted.
func (l *Limiter) evaluate(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	if l.store == nil {
		return Decision{}, ErrStoreUnavailable
	}

	callCtx, cancel := l.callContext(ctx)
	raw, found, err := l.store.Get(callCtx, key)
	cancel()
	if err != nil {
		return Decision{}, fmt.Errorf("read window %s: %w", key, err)
	}

	w, ok := RateWindow{}, false
	if found {
		w, ok = decodeWindow(raw)
	}

	if !ok || w.Expired(now) {
		w = newWindow(now, window)
		if err := l.write(ctx, key, w, window); err != nil {
			return Decision{}, err
		}
		return Decision{
			Success:   true,
			Limit:     limit,
			Remaining: max(limit-1, 0),
			Reset:     w.ResetUnix(),
		}, nil
	}

	if w.Count < limit {
		w.Count++
		if err := l.write(ctx, key, w, w.TTL(now)); err != nil {
			return Decision{}, err
		}
		return Decision{
			Success:   true,
			Limit:     limit,
			Remaining: limit - w.Count,
			Reset:     w.ResetUnix(),
		}, nil
	}

	return Decision{
		Success:    false,
		Limit:      limit,
		Remaining:  0,
		Reset:      w.ResetUnix(),
		RetryAfter: int(ceilDiv(w.ResetAt-now.UnixMilli(), 1000)),
	}, nil
}

func (l *Limiter) write(ctx context.Context, key string, w RateWindow, ttl time.Duration) error {
	callCtx, cancel := l.callContext(ctx)
	defer cancel()
	if err := l.store.SetWithTTL(callCtx, key, w.encode(), ttl); err != nil {
		return fmt.Errorf("write window %s: %w", key, err)
	}
	return nil
}

func (l *Limiter) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.callTimeout)
}

// failOpen is the decision returned when the store cannot be used. Remaining
// stays at the full limit even though the request is admitted.
func failOpen(limit int, window time.Duration, now time.Time) Decision {
	return Decision{
		Success:   true,
		Limit:     limit,
		Remaining: limit,
		Reset:     ceilDiv(now.UnixMilli()+window.Milliseconds(), 1000),
	}
}
