// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Logging
	LogLevel  string
	LogFormat string

	// Path to a JSON chain registry, built-in defaults are used when empty
	ChainsFile string

	// Outer deadline for a single wallet/project request
	RequestTimeout time.Duration

	// Query executor retry policy
	RPCMaxPasses int
	RPCPassDelay time.Duration

	// Default RPC calls per second per chain, 0 = unlimited
	RPCRateLimit float64

	// Upper bound on concurrent sub-queries per request
	FanoutLimit int

	// External price source
	PriceAPIURL string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Oracle circuit breaker settings
	CircuitFailureThreshold int
	CircuitResetDelay       time.Duration

	// HTTP API rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Positions worth less than this (USD) are dropped from API responses
	MinTokenValue float64

	// Sign balance reports with a secp256k1 key
	SigningEnabled bool

	// Hex secp256k1 key for report signing, ephemeral when empty
	SigningKey string

	// Webhook receiving balance reports, disabled when empty
	ExportWebhookURL string
	ExportAPIKey     string
	ExportBatchSize  int
	ExportInterval   time.Duration
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:                    GetEnvOrDefault("PORT", "8080"),
		LogLevel:                strings.ToLower(GetEnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:               strings.ToLower(GetEnvOrDefault("LOG_FORMAT", "text")),
		ChainsFile:              GetEnvOrDefault("CHAINS_FILE", ""),
		RequestTimeout:          GetEnvAsDuration("REQUEST_TIMEOUT", 60*time.Second),
		RPCMaxPasses:            GetEnvAsInt("RPC_MAX_PASSES", 3),
		RPCPassDelay:            GetEnvAsDuration("RPC_PASS_DELAY", 0),
		RPCRateLimit:            GetEnvAsFloat("RPC_RATE_LIMIT", 0),
		FanoutLimit:             GetEnvAsInt("FANOUT_LIMIT", 16),
		PriceAPIURL:             GetEnvOrDefault("PRICE_API_URL", "https://coins.llama.fi"),
		OtelEndpoint:            GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		CircuitFailureThreshold: GetEnvAsInt("CIRCUIT_FAILURE_THRESHOLD", 5),
		CircuitResetDelay:       GetEnvAsDuration("CIRCUIT_RESET_DELAY", 30*time.Second),
		RateLimitRPS:            GetEnvAsFloat("RATE_LIMIT_RPS", 10.0),
		RateLimitBurst:          GetEnvAsInt("RATE_LIMIT_BURST", 20),
		MinTokenValue:           GetEnvAsFloat("MIN_TOKEN_VALUE", 0),
		SigningEnabled:          GetEnvAsBool("SIGNING_ENABLED", false),
		SigningKey:              GetEnvOrDefault("SIGNING_KEY", ""),
		ExportWebhookURL:        GetEnvOrDefault("EXPORT_WEBHOOK_URL", ""),
		ExportAPIKey:            GetEnvOrDefault("EXPORT_API_KEY", ""),
		ExportBatchSize:         GetEnvAsInt("EXPORT_BATCH_SIZE", 50),
		ExportInterval:          GetEnvAsDuration("EXPORT_INTERVAL", time.Minute),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
