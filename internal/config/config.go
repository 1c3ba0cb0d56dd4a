// Package config provides configuration loading for the goalflow service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the goalflow service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Catalog configuration
	CatalogPath string

	// Planner configuration
	MaxPlanIterations int

	// Engine configuration
	AgentTimeout     time.Duration
	MaxReplans       int
	WatchExpressions []string

	// Simulated executors (development mode)
	Simulate      bool
	SimAgentDelay time.Duration

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// RunStore configuration
	RunStoreType string // "memory" or "redis"
	RunStoreTTL  time.Duration
	EventMaxLen  int64

	// OIDC configuration
	OIDCIssuer   string
	OIDCClientID string
	OIDCEnabled  bool

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7080"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Catalog
		CatalogPath: getEnv("CATALOG_PATH", "examples/catalog.json"),

		// Planner
		MaxPlanIterations: getInt("MAX_PLAN_ITERATIONS", 5000),

		// Engine
		AgentTimeout:     getDuration("AGENT_TIMEOUT", 10*time.Second),
		MaxReplans:       getInt("MAX_REPLANS", 10),
		// Semicolon-separated; expressions may contain commas.
		WatchExpressions: getStringSliceSep("WATCH_EXPRESSIONS", ";", nil),

		// Simulation
		Simulate:      getBool("SIMULATE_EXECUTORS", false),
		SimAgentDelay: getDuration("SIM_AGENT_DELAY", 100*time.Millisecond),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// RunStore
		RunStoreType: getEnv("GOALFLOW_RUNSTORE", "memory"), // "memory" or "redis"
		RunStoreTTL:  getDuration("RUNSTORE_TTL", 7*24*time.Hour),
		EventMaxLen:  getInt64("EVENT_MAX_LEN", 5000),

		// OIDC
		OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
		OIDCClientID: getEnv("OIDC_CLIENT_ID", ""),
		OIDCEnabled:  getBool("OIDC_ENABLED", false),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		// Tracing
		TracingEnabled: getBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	return getStringSliceSep(key, ",", defaultVal)
}

func getStringSliceSep(key, sep string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, sep)
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultVal
}
