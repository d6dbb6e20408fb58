package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Counter store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds application configuration
type Config struct {
	ServerPort  string
	UpstreamURL string

	RateLimitStore         string
	RedisURL               string
	PolicyFile             string
	RateLimitOverrides     string
	SweepInterval          time.Duration
	StoreCallTimeout       time.Duration
	OverrideReloadInterval time.Duration

	// TenantHeader and TenantBodyField name client supplied tenant claims.
	// Both are unverified and disabled unless set.
	TenantHeader    string
	TenantBodyField string
	SessionCookie   string
	SessionCacheTTL time.Duration
	DatabaseURL     string
	OIDCIssuer      string
	OIDCJWKSURL     string
	OIDCOrgClaim    string

	RabbitMQURL           string
	RabbitMQPrefetch      int
	ThrottleFlushInterval time.Duration

	CORSAllowedOrigins string
	AdminToken         string
	AdminRate          string

	WorkerDebugMode bool
	ServerDebugMode bool
	OTELEnabled     bool
	OTELEndpoint    string
}

func load() *Config {
	return &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		UpstreamURL: getEnv("UPSTREAM_URL", ""),

		RateLimitStore:         strings.ToLower(getEnv("RATE_LIMIT_STORE", StoreMemory)),
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379/0"),
		PolicyFile:             getEnv("RATE_LIMIT_POLICY_FILE", ""),
		RateLimitOverrides:     getEnv("RATE_LIMIT_OVERRIDES", ""),
		SweepInterval:          getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		StoreCallTimeout:       getEnvDuration("RATE_LIMIT_STORE_TIMEOUT", 250*time.Millisecond),
		OverrideReloadInterval: getEnvDuration("RATE_LIMIT_RELOAD_INTERVAL", time.Minute),

		TenantHeader:    getEnv("TENANT_HEADER", ""),
		TenantBodyField: getEnv("TENANT_BODY_FIELD", ""),
		SessionCookie:   getEnv("SESSION_COOKIE", "session_token"),
		SessionCacheTTL: getEnvDuration("SESSION_CACHE_TTL", time.Minute),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		OIDCIssuer:      getEnv("OIDC_ISSUER", ""),
		OIDCJWKSURL:     getEnv("OIDC_JWKS_URL", ""),
		OIDCOrgClaim:    getEnv("OIDC_ORG_CLAIM", "org_id"),

		RabbitMQURL:           getEnv("RABBITMQ_URL", ""),
		RabbitMQPrefetch:      getEnvInt("RABBITMQ_PREFETCH", 10),
		ThrottleFlushInterval: getEnvDuration("THROTTLE_FLUSH_INTERVAL", time.Minute),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		AdminToken:         getEnv("ADMIN_TOKEN", ""),
		AdminRate:          getEnv("ADMIN_RATE", "30-M"),

		WorkerDebugMode: getEnvBool("WORKER_DEBUG_MODE", false),
		ServerDebugMode: getEnvBool("SERVER_DEBUG_MODE", false),
		OTELEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// Load loads the gateway configuration from environment variables
func Load() (*Config, error) {
	cfg := load()

	if cfg.UpstreamURL == "" {
		return nil, fmt.Errorf("UPSTREAM_URL is required")
	}
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("UPSTREAM_URL %q must be an absolute URL", cfg.UpstreamURL)
	}

	switch cfg.RateLimitStore {
	case StoreMemory, StoreRedis:
	default:
		return nil, fmt.Errorf("RATE_LIMIT_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, cfg.RateLimitStore)
	}

	if (cfg.OIDCIssuer == "") != (cfg.OIDCJWKSURL == "") {
		return nil, fmt.Errorf("OIDC_ISSUER and OIDC_JWKS_URL must be set together")
	}

	return cfg, nil
}

// LoadWorker loads the throttle event worker configuration.
func LoadWorker() (*Config, error) {
	cfg := load()

	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required for the throttle event worker")
	}

	return cfg, nil
}

// UsesRedis reports whether counters are kept in Redis.
func (c *Config) UsesRedis() bool {
	return c.RateLimitStore == StoreRedis
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
