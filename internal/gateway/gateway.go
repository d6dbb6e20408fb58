// Package gateway proxies CRM traffic and applies the rate limit policy bound
// to each route.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"time"

	"github.com/benvon/crm-ratelimit/internal/config"
	logpkg "github.com/benvon/crm-ratelimit/internal/logger"
	"github.com/benvon/crm-ratelimit/internal/middleware"
	"github.com/benvon/crm-ratelimit/internal/ratelimit"
	"go.uber.org/zap"
)

type boundRoute struct {
	binding config.RouteBinding
	handler http.Handler
}

// Gateway routes each request through the rate limiter of its binding, then
// to the upstream. Requests no binding matches go straight upstream.
type Gateway struct {
	routes   []boundRoute
	upstream http.Handler
}

// New builds a Gateway. Bindings are tried longest prefix first, so a more
// specific binding wins over a broader one.
func New(upstream *url.URL, routes []config.RouteBinding, l *ratelimit.Limiter, policies ratelimit.PolicySource, log *zap.Logger, opts ...middleware.RateLimitOption) (*Gateway, error) {
	if upstream == nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, errors.New("gateway: upstream must be an absolute URL")
	}
	if err := config.CheckRoutes(routes, policies); err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	proxy := NewProxy(upstream, log)

	sorted := make([]config.RouteBinding, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	g := &Gateway{upstream: proxy}
	for _, b := range sorted {
		mw := middleware.RateLimitByName(l, policies, b.Policy, opts...)
		g.routes = append(g.routes, boundRoute{binding: b, handler: mw(proxy)})
	}
	return g, nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, rt := range g.routes {
		if rt.binding.Matches(r.Method, r.URL.Path) {
			rt.handler.ServeHTTP(w, r)
			return
		}
	}
	g.upstream.ServeHTTP(w, r)
}

// NewProxy returns a reverse proxy to upstream. The inbound X-Forwarded-For
// chain is kept so the upstream sees the same client IP the limiter used.
func NewProxy(upstream *url.URL, log *zap.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if xff, ok := pr.In.Header["X-Forwarded-For"]; ok {
				pr.Out.Header["X-Forwarded-For"] = xff
			}
			pr.SetURL(upstream)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		FlushInterval: 100 * time.Millisecond,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error("upstream_request_failed",
				zap.String("method", r.Method),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.String("error", logpkg.SanitizeError(err)),
			)
			middleware.WriteError(w, r, http.StatusBadGateway, middleware.UpstreamUnavailableCode, "The CRM did not answer", log)
		},
	}
}
