// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/subledger/internal/constants"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Authentication (bearer tokens are issued elsewhere; we only verify them)
	JWTSecret string
	JWTIssuer string

	// Payment gateway
	StripeSecretKey        string
	StripeWebhookSecret    string
	WebhookSignatureScheme string // "stripe" (default) or "svix"
	SvixWebhookSecret      string // whsec_ secret when relayed through Svix

	// Plans
	Plans    PlanConfig
	PlansKey string // S3 key of a plans JSON override, read from StorageBucket

	// Timeouts for external calls made while handling events
	GatewayTimeout time.Duration
	StoreTimeout   time.Duration

	// Renewal
	RedisURL       string        // Shared renewal lock; in-memory lock when empty
	RenewalLockTTL time.Duration // Upper bound on how long one renewal may hold the lock

	// CORS
	CORSOrigins []string

	// Object Storage (Tigris/S3-compatible) for the raw event archive
	StorageEnabled   bool
	StorageEndpoint  string // AWS_ENDPOINT_URL_S3 for Tigris
	StorageAccessKey string // AWS_ACCESS_KEY_ID
	StorageSecretKey string // AWS_SECRET_ACCESS_KEY
	StorageBucket    string // Bucket name (one per environment)
	StorageRegion    string // Region (auto for Tigris)
	ArchiveRetention time.Duration

	// Expiry sweeper
	SweepEnabled  bool
	SweepInterval time.Duration

	// Rate limits (requests per minute, 0 disables)
	AccountRateLimit int // POST /api/v1/subscription/* per account
	IPRateLimit      int

	// Scale-to-zero: stop after this long without traffic (0 disables)
	IdleTimeout time.Duration

	// Metrics
	MetricsEnabled bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:subledger.db?_journal=WAL&_timeout=5000"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", ""),

		StripeSecretKey:        getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:    getEnv("STRIPE_WEBHOOK_SECRET", ""),
		WebhookSignatureScheme: strings.ToLower(getEnv("WEBHOOK_SIGNATURE_SCHEME", "stripe")),
		SvixWebhookSecret:      getEnv("SVIX_WEBHOOK_SECRET", ""),

		GatewayTimeout: getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		StoreTimeout:   getEnvDuration("STORE_TIMEOUT", 5*time.Second),

		RedisURL:       getEnv("REDIS_URL", ""),
		RenewalLockTTL: getEnvDuration("RENEWAL_LOCK_TTL", 2*time.Minute),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		// Object Storage (Tigris/S3-compatible) - uses Fly's standard env vars
		// BUCKET_NAME is set automatically by `fly storage create`
		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),
		ArchiveRetention: getEnvDuration("ARCHIVE_RETENTION", 90*24*time.Hour),
		PlansKey:         getEnv("PLANS_S3_KEY", ""),

		SweepEnabled:  getEnvBool("SWEEP_ENABLED", true),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 15*time.Minute),

		AccountRateLimit: getEnvInt("ACCOUNT_RATE_LIMIT", constants.AccountMutationsPerMinute),
		IPRateLimit:      getEnvInt("IP_RATE_LIMIT", constants.GlobalIPRateLimitPerMinute),
		IdleTimeout:      getEnvDuration("IDLE_TIMEOUT", 0),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	// Enable storage if bucket is configured
	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	plans, err := loadPlanConfig()
	if err != nil {
		return nil, err
	}
	cfg.Plans = plans

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.WebhookSignatureScheme {
	case "stripe", "svix":
	default:
		return nil, fmt.Errorf("WEBHOOK_SIGNATURE_SCHEME must be stripe or svix, got %q", cfg.WebhookSignatureScheme)
	}
	if cfg.WebhookSecret() == "" {
		return nil, fmt.Errorf("a webhook signing secret is required for scheme %q", cfg.WebhookSignatureScheme)
	}

	return cfg, nil
}

// WebhookSecret returns the signing secret for the configured scheme.
func (c *Config) WebhookSecret() string {
	if c.WebhookSignatureScheme == "svix" {
		return c.SvixWebhookSecret
	}
	return c.StripeWebhookSecret
}

// GatewayEnabled returns true if gateway API credentials are configured.
// Without them webhooks still apply, but renewals and gateway lookups are unavailable.
func (c *Config) GatewayEnabled() bool {
	return c.StripeSecretKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}
