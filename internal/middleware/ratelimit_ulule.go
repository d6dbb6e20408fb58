package middleware

import (
	"fmt"
	"net/http"

	"github.com/benvon/crm-ratelimit/internal/request"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

// DefaultAdminRate is the admin API throttle when none is configured.
const DefaultAdminRate = "30-M"

const adminThrottlePrefix = "crm_admin_throttle"

// NewAdminThrottleStore returns the ulule store for the admin throttle: Redis
// when a client is given so the limit is shared across instances, in-process
// memory otherwise.
func NewAdminThrottleStore(client redis.UniversalClient) (limiter.Store, error) {
	opts := limiter.StoreOptions{Prefix: adminThrottlePrefix}
	if client == nil {
		return memorystore.NewStoreWithOptions(opts), nil
	}
	store, err := redisstore.NewStoreWithOptions(client, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin throttle store: %w", err)
	}
	return store, nil
}

// AdminThrottle limits the admin API per client IP with a ulule rate string
// such as "30-M". It is independent of the policy limiter so admin traffic
// never consumes a policy's budget.
func AdminThrottle(store limiter.Store, rate string) (func(http.Handler) http.Handler, error) {
	if rate == "" {
		rate = DefaultAdminRate
	}
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid admin rate %q: %w", rate, err)
	}
	instance := limiter.New(store, parsed)
	keyGetter := func(r *http.Request) string {
		return request.ClientIP(r)
	}
	mw := stdlibmw.NewMiddleware(instance, stdlibmw.WithKeyGetter(keyGetter))
	return mw.Handler, nil
}
