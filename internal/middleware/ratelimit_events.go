package middleware

import (
	"context"
	"net/http"

	logpkg "github.com/benvon/crm-ratelimit/internal/logger"
	"github.com/benvon/crm-ratelimit/internal/models"
	"github.com/benvon/crm-ratelimit/internal/queue"
	"github.com/benvon/crm-ratelimit/internal/ratelimit"
	"github.com/benvon/crm-ratelimit/internal/request"
	"go.uber.org/zap"
)

// ThrottleEventHook returns a DenyHook that publishes a ThrottleEvent for
// every denied request. pub should not block; wrap a broker publisher in a
// queue.AsyncPublisher.
func ThrottleEventHook(pub queue.EventPublisher, logger *zap.Logger) DenyHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(r *http.Request, policy ratelimit.Policy, tenantID string, d ratelimit.CombinedDecision) {
		event := models.NewThrottleEvent()
		event.Policy = policy.Name
		event.Namespace = policy.Namespace
		event.Scope = string(d.Scope)
		event.ClientIP = logpkg.SanitizeIP(request.ClientIP(r))
		event.TenantID = tenantID
		event.Method = r.Method
		event.Path = logpkg.SanitizePath(r.URL.Path)
		event.Limit = d.Limit
		event.RetryAfter = d.RetryAfter
		event.Reset = d.Reset

		// The event outlives the request.
		ctx := context.WithoutCancel(r.Context())
		if err := pub.Publish(ctx, event); err != nil {
			logger.Warn("throttle_event_publish_failed",
				zap.String("policy", policy.Name),
				zap.Error(err),
			)
		}
	}
}
