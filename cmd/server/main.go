package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/crm-ratelimit/internal/config"
	"github.com/benvon/crm-ratelimit/internal/database"
	"github.com/benvon/crm-ratelimit/internal/gateway"
	"github.com/benvon/crm-ratelimit/internal/handlers"
	"github.com/benvon/crm-ratelimit/internal/logger"
	"github.com/benvon/crm-ratelimit/internal/middleware"
	"github.com/benvon/crm-ratelimit/internal/queue"
	"github.com/benvon/crm-ratelimit/internal/ratelimit"
	"github.com/benvon/crm-ratelimit/internal/telemetry"
	"github.com/benvon/crm-ratelimit/internal/tenant"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

const serviceName = "crm-ratelimit"

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync(zapLogger) }()

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("rate_limit_store", cfg.RateLimitStore),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	tracingEnabled := false
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else {
			tp, err := telemetry.InitTracer(context.Background(), serviceName, cfg.OTELEndpoint, telemetry.DefaultSampleRatio)
			if err != nil {
				zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
			} else {
				tracingEnabled = true
				zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
				defer func() {
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer shutdownCancel()
					if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
						zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
					}
				}()
			}
		}
	}

	healthChecker := handlers.NewHealthChecker()

	// Policies: presets, then the policy file, then env overrides.
	registry := ratelimit.DefaultRegistry()
	var policyFile *config.PolicyFile
	if cfg.PolicyFile != "" {
		policyFile, err = config.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			zapLogger.Fatal("failed_to_load_policy_file", zap.String("path", cfg.PolicyFile), zap.Error(err))
		}
		if registry, err = policyFile.Registry(registry); err != nil {
			zapLogger.Fatal("invalid_policy_file", zap.Error(err))
		}
	}
	overrides, err := ratelimit.ParseOverrides(cfg.RateLimitOverrides)
	if err != nil {
		zapLogger.Fatal("invalid_rate_limit_overrides", zap.Error(err))
	}
	if registry, err = registry.WithOverrides(overrides); err != nil {
		zapLogger.Fatal("invalid_rate_limit_overrides", zap.Error(err))
	}

	// Counter store
	var (
		store       ratelimit.CounterStore
		redisClient redis.UniversalClient
	)
	if cfg.UsesRedis() {
		redisStore, err := ratelimit.NewRedisStore(cfg.RedisURL)
		if err != nil {
			// No store means every check fails open until the next restart.
			zapLogger.Error("ratelimit_store_unavailable", zap.Error(err))
			healthChecker.AddCheck("redis", func(context.Context) error { return ratelimit.ErrStoreUnavailable })
		} else {
			defer func() {
				if err := redisStore.Close(); err != nil {
					zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
				}
			}()
			store = redisStore
			redisClient = redisStore.Client()
			healthChecker.AddCheck("redis", redisStore.Ping)
			zapLogger.Info("connected_to_redis")
		}
	} else {
		memStore := ratelimit.NewMemoryStore(
			ratelimit.WithMemorySweepInterval(cfg.SweepInterval),
			ratelimit.WithMemoryLogger(zapLogger),
		)
		defer func() { _ = memStore.Close() }()
		store = memStore
	}

	limiter := ratelimit.New(store,
		ratelimit.WithLogger(zapLogger),
		ratelimit.WithCallTimeout(cfg.StoreCallTimeout),
	)

	reloadCtx, reloadCancel := context.WithCancel(context.Background())
	defer reloadCancel()

	// Database: session lookups and stored policy overrides.
	var (
		policies      handlers.PolicyCatalog = registry
		policySource  ratelimit.PolicySource = registry
		overrideRepo  handlers.OverrideStore
		reloadFunc    func(context.Context) error
		sessionLookup tenant.SessionLookup
	)
	if cfg.DatabaseURL != "" {
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
			}
		}()
		healthChecker.AddCheck("database", db.PingContext)
		zapLogger.Info("connected_to_database")

		repo := database.NewPolicyOverrideRepository(db)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			zapLogger.Fatal("failed_to_prepare_policy_override_table", zap.Error(err))
		}
		reloader := ratelimit.NewReloader(registry, repo, zapLogger, cfg.OverrideReloadInterval)
		if err := reloader.Load(context.Background()); err != nil {
			zapLogger.Warn("initial_policy_override_load_failed", zap.Error(err))
		}
		go reloader.Start(reloadCtx)

		policies, policySource = reloader, reloader
		overrideRepo, reloadFunc = repo, reloader.Load
		sessionLookup = database.NewSessionRepository(db, "")
	}

	// Throttle events
	var publisher queue.EventPublisher = queue.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL)
		if err != nil {
			// Events are best effort; the gateway runs without them.
			zapLogger.Warn("failed_to_connect_to_rabbitmq_throttle_events_disabled", zap.Error(err))
		} else {
			publisher = queue.NewAsyncPublisher(mq, queue.DefaultAsyncBuffer, zapLogger)
			healthChecker.AddCheck("rabbitmq", publisher.HealthCheck)
			zapLogger.Info("connected_to_rabbitmq")
		}
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			zapLogger.Warn("failed_to_close_event_publisher", zap.Error(err))
		}
	}()

	// Tenant resolution: verified identities first, client claims only when
	// explicitly enabled.
	tenantSources := tenant.Sources{Header: cfg.TenantHeader, BodyField: cfg.TenantBodyField}
	if cfg.OIDCJWKSURL != "" {
		jwks := tenant.NewJWKSManager(nil, tenant.DefaultJWKSTTL)
		tenantSources.Verified = append(tenantSources.Verified, tenant.NewJWTResolver(jwks, cfg.OIDCJWKSURL, cfg.OIDCIssuer, cfg.OIDCOrgClaim))
	}
	if sessionLookup != nil {
		tenantSources.Verified = append(tenantSources.Verified, tenant.NewSessionResolver(sessionLookup,
			tenant.WithSessionCookie(cfg.SessionCookie),
			tenant.WithSessionCache(store, cfg.SessionCacheTTL),
		))
	}
	if tenantSources.Unverified() {
		zapLogger.Warn("unverified_tenant_source_enabled",
			zap.String("header", cfg.TenantHeader),
			zap.String("body_field", cfg.TenantBodyField),
		)
	}
	resolvers := tenantSources.Chain()

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		zapLogger.Fatal("invalid_upstream_url", zap.Error(err))
	}
	routes := policyFile.RoutesOrDefault()
	gw, err := gateway.New(upstream, routes, limiter, policySource, zapLogger,
		middleware.WithTenantResolver(resolvers),
		middleware.WithDenyHook(middleware.ThrottleEventHook(publisher, zapLogger)),
		middleware.WithRateLimitLogger(zapLogger),
	)
	if err != nil {
		zapLogger.Fatal("failed_to_create_gateway", zap.Error(err))
	}

	// Admin API
	adminFailures := ratelimit.NewHitLog(ratelimit.WithMemoryLogger(zapLogger))
	defer func() { _ = adminFailures.Close() }()
	adminStore, err := middleware.NewAdminThrottleStore(redisClient)
	if err != nil {
		zapLogger.Fatal("failed_to_create_admin_throttle_store", zap.Error(err))
	}
	adminThrottle, err := middleware.AdminThrottle(adminStore, cfg.AdminRate)
	if err != nil {
		zapLogger.Fatal("invalid_admin_rate", zap.Error(err))
	}
	adminHandler := handlers.NewAdminHandler(policies, limiter, overrideRepo, reloadFunc, zapLogger)

	// Setup router. Middleware runs in registration order.
	r := mux.NewRouter()
	if tracingEnabled {
		r.Use(otelmux.Middleware(serviceName))
	}
	if origins := middleware.ParseOrigins(cfg.CORSAllowedOrigins); len(origins) > 0 {
		r.Use(middleware.CORS(origins))
	}
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Logging(zapLogger))
	r.Use(middleware.Audit(zapLogger))

	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	adminRouter := r.PathPrefix("/admin/ratelimit").Subrouter()
	adminRouter.Use(adminThrottle)
	adminRouter.Use(middleware.AdminAuth(cfg.AdminToken, adminFailures, zapLogger))
	adminHandler.RegisterRoutes(adminRouter)

	r.PathPrefix("/").Handler(gw)

	zapLogger.Info("routes_bound", zap.Int("bindings", len(routes)))

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")
	reloadCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}
