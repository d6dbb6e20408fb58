package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	logpkg "github.com/benvon/crm-ratelimit/internal/logger"
	"github.com/benvon/crm-ratelimit/internal/queue"
	"go.uber.org/zap"
)

// DefaultFlushInterval is how often the auditor logs its throttle summary.
const DefaultFlushInterval = time.Minute

// ThrottleSummary is the number of denials for one namespace, scope and
// tenant during a flush interval.
type ThrottleSummary struct {
	Namespace string
	Scope     string
	TenantID  string
	Count     int
}

type summaryKey struct {
	namespace string
	scope     string
	tenantID  string
}

// ThrottleAuditor consumes throttle events and periodically logs which
// tenants and namespaces are being throttled the most.
type ThrottleAuditor struct {
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	counts map[summaryKey]int
}

// NewThrottleAuditor creates a new throttle auditor
func NewThrottleAuditor(logger *zap.Logger, flushInterval time.Duration) *ThrottleAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &ThrottleAuditor{
		logger:   logger,
		interval: flushInterval,
		counts:   make(map[summaryKey]int),
	}
}

// ProcessMessage records one event and acknowledges it. Messages without an
// event are rejected to the DLQ.
func (a *ThrottleAuditor) ProcessMessage(_ context.Context, msg queue.MessageInterface) error {
	event := msg.GetEvent()
	if event == nil {
		if err := msg.Nack(false); err != nil {
			return fmt.Errorf("failed to nack empty message: %w", err)
		}
		return errors.New("message has no event")
	}

	a.mu.Lock()
	a.counts[summaryKey{namespace: event.Namespace, scope: event.Scope, tenantID: event.TenantID}]++
	a.mu.Unlock()

	a.logger.Debug("throttle_event_received",
		zap.String("event_id", event.ID.String()),
		zap.String("namespace", event.Namespace),
		zap.String("scope", event.Scope),
		zap.String("ip", logpkg.SanitizeIP(event.ClientIP)),
		zap.String("tenant_id", logpkg.SanitizeTenantID(event.TenantID)),
	)

	if err := msg.Ack(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Flush logs and returns the summaries collected since the previous flush,
// highest count first, and starts a new interval.
func (a *ThrottleAuditor) Flush() []ThrottleSummary {
	a.mu.Lock()
	counts := a.counts
	a.counts = make(map[summaryKey]int)
	a.mu.Unlock()

	out := make([]ThrottleSummary, 0, len(counts))
	for k, n := range counts {
		out = append(out, ThrottleSummary{Namespace: k.namespace, Scope: k.scope, TenantID: k.tenantID, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].TenantID < out[j].TenantID
	})

	for _, s := range out {
		a.logger.Info("throttle_summary",
			zap.String("namespace", s.Namespace),
			zap.String("scope", s.Scope),
			zap.String("tenant_id", logpkg.SanitizeTenantID(s.TenantID)),
			zap.Int("denials", s.Count),
			zap.Duration("interval", a.interval),
		)
	}
	return out
}

// Run processes messages until ctx is cancelled or msgs is closed, flushing
// every interval and once more on exit.
func (a *ThrottleAuditor) Run(ctx context.Context, msgs <-chan *queue.Message, errs <-chan error) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	defer a.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Flush()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			a.logger.Error("queue_error", zap.Error(err))
		case msg, ok := <-msgs:
			if !ok {
				a.logger.Info("message_channel_closed")
				return
			}
			if err := a.ProcessMessage(ctx, msg); err != nil {
				a.logger.Error("failed_to_process_throttle_event", zap.Error(err))
			}
		}
	}
}
