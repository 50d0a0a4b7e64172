package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string
	SecurityLogPath string

	// Redis (optional; enables cross-instance fan-out and shared stores)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Auth0
	Auth0Domain   string
	Auth0Audience string
	SkipAuth      bool

	// Room lifecycle
	RoomCodeLength      int // 4-8, default 4
	RoomExpirationHours int // 1-168, default 24
	MaxPlayers          int // 5-100, default 50

	// State synchronization
	SnapshotIntervalVersions int
	SnapshotMaxPerRoom       int
	ReplayBufferCapacity     int
	ReplayEventTTLMs         int
	DedupTTLMs               int
	AckTimeoutMs             int
	SyncScanHz               int
	MinFullBroadcastGapMs    int

	// Rate limits, ulule/limiter formatted strings ("<limit>-<period>")
	RateLimitClient   string
	RateLimitRoom     string
	RateLimitAction   string
	RateLimitBurst    string
	RateLimitWsIP     string
	RateLimitAPIRooms string

	// Tracing
	OtelCollectorAddr string
}

// ValidateEnv validates all recognized environment variables and returns a Config.
// Returns an error listing every invalid or missing variable.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

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

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
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

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.SecurityLogPath = os.Getenv("SECURITY_LOG_PATH")
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	// Room lifecycle knobs, all range-checked
	cfg.RoomCodeLength = getEnvIntInRange("ROOM_CODE_LENGTH", 4, 4, 8, &errors)
	cfg.RoomExpirationHours = getEnvIntInRange("ROOM_EXPIRATION_HOURS", 24, 1, 168, &errors)
	cfg.MaxPlayers = getEnvIntInRange("MAX_PLAYERS", 50, 5, 100, &errors)

	// Sync engine knobs
	cfg.SnapshotIntervalVersions = getEnvIntInRange("SNAPSHOT_INTERVAL_VERSIONS", 10, 1, 1000, &errors)
	cfg.SnapshotMaxPerRoom = getEnvIntInRange("SNAPSHOT_MAX_PER_ROOM", 10, 1, 100, &errors)
	cfg.ReplayBufferCapacity = getEnvIntInRange("REPLAY_BUFFER_CAPACITY", 100, 10, 10000, &errors)
	cfg.ReplayEventTTLMs = getEnvIntInRange("REPLAY_EVENT_TTL_MS", 3600000, 1000, 86400000, &errors)
	cfg.DedupTTLMs = getEnvIntInRange("DEDUP_TTL_MS", 3600000, 1000, 86400000, &errors)
	cfg.AckTimeoutMs = getEnvIntInRange("ACK_TIMEOUT_MS", 2000, 100, 60000, &errors)
	cfg.SyncScanHz = getEnvIntInRange("SYNC_SCAN_HZ", 10, 1, 60, &errors)
	cfg.MinFullBroadcastGapMs = getEnvIntInRange("MIN_FULL_BROADCAST_GAP_MS", 200, 0, 10000, &errors)

	// Rate limits (Defaults: S = Second, M = Minute, H = Hour)
	cfg.RateLimitClient = getEnvOrDefault("RATE_LIMIT_CLIENT", "120-M")
	cfg.RateLimitRoom = getEnvOrDefault("RATE_LIMIT_ROOM", "600-M")
	cfg.RateLimitAction = getEnvOrDefault("RATE_LIMIT_ACTION", "30-M")
	cfg.RateLimitBurst = getEnvOrDefault("RATE_LIMIT_BURST", "40-S")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "30-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "20-M")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// OriginList returns the configured CORS origins, or the defaults when the
// ALLOWED_ORIGINS variable was not set.
func (c *Config) OriginList(defaults []string) []string {
	if c.AllowedOrigins == "" {
		return defaults
	}
	return strings.Split(c.AllowedOrigins, ",")
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// getEnvIntInRange reads an integer env var, applying a default and range check.
func getEnvIntInRange(key string, def, min, max int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got '%s')", key, raw))
		return def
	}
	if v < min || v > max {
		*errs = append(*errs, fmt.Sprintf("%s must be between %d and %d (got %d)", key, min, max, v))
		return def
	}
	return v
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"room_code_length", cfg.RoomCodeLength,
		"room_expiration_hours", cfg.RoomExpirationHours,
		"max_players", cfg.MaxPlayers,
		"snapshot_interval_versions", cfg.SnapshotIntervalVersions,
		"replay_buffer_capacity", cfg.ReplayBufferCapacity,
		"ack_timeout_ms", cfg.AckTimeoutMs,
		"sync_scan_hz", cfg.SyncScanHz,
		"rate_limit_client", cfg.RateLimitClient,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
