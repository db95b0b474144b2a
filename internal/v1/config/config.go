// Package config validates and exposes process-wide environment configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	SessionSecret string
	Port          string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	DevelopmentMode bool
	SkipAuth        bool
	AllowedOrigins  string

	// Identity-provider settings for the human websocket transport.
	AuthDomain   string
	AuthAudience string

	// Simulation tuning for the room runtime
	TickRateHz           int
	RoomCapacity         int
	ProximityRadiusUnits float64
	InteractionRadius    float64
	SessionTimeoutMs     int64

	// Event log / chat store ring sizing
	EventLogCapacity  int
	EventLogTTLSec    int
	ChatRingCapacity  int
	IdempotencyTTLMin int

	// Rate limits, one bucket per endpoint class
	RateLimitObservation string
	RateLimitAction      string
	RateLimitChat        string
	RateLimitEvents      string

	PackDir string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: SESSION_SECRET (minimum 32 characters). Agent session tokens
	// are opaque random strings and are not derived from it.
	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		errors = append(errors, "SESSION_SECRET is required")
	} else if len(cfg.SessionSecret) < 32 {
		errors = append(errors, fmt.Sprintf("SESSION_SECRET must be at least 32 characters (got %d)", len(cfg.SessionSecret)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true) backs the
	// optional shared rate-limiter store.
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.AuthDomain = os.Getenv("AUTH_DOMAIN")
	cfg.AuthAudience = os.Getenv("AUTH_AUDIENCE")
	if !cfg.SkipAuth && cfg.AuthDomain != "" && cfg.AuthAudience == "" {
		errors = append(errors, "AUTH_AUDIENCE is required when AUTH_DOMAIN is set")
	}
	cfg.PackDir = getEnvOrDefault("PACK_DIR", "assets/packs/default")

	cfg.TickRateHz = getEnvIntOrDefault("TICK_RATE_HZ", 10)
	cfg.RoomCapacity = getEnvIntOrDefault("ROOM_CAPACITY", 64)
	cfg.ProximityRadiusUnits = getEnvFloatOrDefault("PROXIMITY_RADIUS_UNITS", 128)
	cfg.InteractionRadius = getEnvFloatOrDefault("INTERACTION_RADIUS_UNITS", 64)
	cfg.SessionTimeoutMs = int64(getEnvIntOrDefault("SESSION_TIMEOUT_MS", 90_000))

	cfg.EventLogCapacity = getEnvIntOrDefault("EVENT_LOG_CAPACITY", 1000)
	cfg.EventLogTTLSec = getEnvIntOrDefault("EVENT_LOG_TTL_SEC", 60)
	cfg.ChatRingCapacity = getEnvIntOrDefault("CHAT_RING_CAPACITY", 1000)
	cfg.IdempotencyTTLMin = getEnvIntOrDefault("IDEMPOTENCY_TTL_MIN", 10)

	cfg.RateLimitObservation = getEnvOrDefault("RATE_LIMIT_OBSERVATION", "20-S,40")
	cfg.RateLimitAction = getEnvOrDefault("RATE_LIMIT_ACTION", "10-S,20")
	cfg.RateLimitChat = getEnvOrDefault("RATE_LIMIT_CHAT", "5-S,10")
	cfg.RateLimitEvents = getEnvOrDefault("RATE_LIMIT_EVENTS", "10-S,20")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"session_secret", redactSecret(cfg.SessionSecret),
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"tick_rate_hz", cfg.TickRateHz,
		"room_capacity", cfg.RoomCapacity,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
