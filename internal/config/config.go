package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// HTTP client
	HTTPTimeout time.Duration

	// Store resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	UseSupabase        bool

	// Debit-order policy. Centralized so retry behavior is configuration,
	// not magic numbers scattered through the processor.
	MaxDebitRetries           int
	DebitRetryInterval        time.Duration
	RailTimeout               time.Duration
	SuspendOnExhaustedRetries bool

	// Payment rail
	RailURL         string
	RailSuccessRate float64 // sandbox only

	// Billing scheduler
	BillingAutoRun     bool
	BillingRunInterval time.Duration

	// Notifications
	EmailProviderURL string
	EmailFromName    string

	// JWT / Auth
	JWTSecret     string
	JWTAccessTTL  time.Duration
	JWTRefreshTTL time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 10),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		UseSupabase:        getEnv("USE_SUPABASE", "true") == "true",

		MaxDebitRetries:           getEnvInt("MAX_DEBIT_RETRIES", 3),
		DebitRetryInterval:        getEnvDuration("DEBIT_RETRY_INTERVAL", 72*time.Hour),
		RailTimeout:               getEnvDuration("RAIL_TIMEOUT", 30*time.Second),
		SuspendOnExhaustedRetries: getEnv("SUSPEND_ON_EXHAUSTED_RETRIES", "false") == "true",

		RailURL:         getEnv("RAIL_URL", ""),
		RailSuccessRate: getEnvFloat("RAIL_SUCCESS_RATE", 0.9),

		BillingAutoRun:     getEnv("BILLING_AUTO_RUN", "true") == "true",
		BillingRunInterval: getEnvDuration("BILLING_RUN_INTERVAL", 24*time.Hour),

		EmailProviderURL: getEnv("EMAIL_PROVIDER_URL", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "IH Academy Payment Services"),

		JWTSecret:     getEnv("JWT_SECRET", "debit-orders-default-dev-secret-change-me"),
		JWTAccessTTL:  getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL: getEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
