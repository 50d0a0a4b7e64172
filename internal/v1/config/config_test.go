package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnv_Defaults(t *testing.T) {
	t.Setenv("PORT", "8080")
	for _, key := range []string{
		"GO_ENV", "LOG_LEVEL", "REDIS_ENABLED",
		"ROOM_CODE_LENGTH", "ROOM_EXPIRATION_HOURS", "MAX_PLAYERS",
		"SNAPSHOT_INTERVAL_VERSIONS", "REPLAY_BUFFER_CAPACITY",
		"ACK_TIMEOUT_MS", "SYNC_SCAN_HZ", "MIN_FULL_BROADCAST_GAP_MS",
		"RATE_LIMIT_CLIENT", "RATE_LIMIT_BURST", "RATE_LIMIT_API_ROOMS",
		"ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.RedisEnabled)

	assert.Equal(t, 4, cfg.RoomCodeLength)
	assert.Equal(t, 24, cfg.RoomExpirationHours)
	assert.Equal(t, 50, cfg.MaxPlayers)
	assert.Equal(t, 10, cfg.SnapshotIntervalVersions)
	assert.Equal(t, 100, cfg.ReplayBufferCapacity)
	assert.Equal(t, 2000, cfg.AckTimeoutMs)
	assert.Equal(t, 10, cfg.SyncScanHz)
	assert.Equal(t, 200, cfg.MinFullBroadcastGapMs)

	assert.Equal(t, "120-M", cfg.RateLimitClient)
	assert.Equal(t, "40-S", cfg.RateLimitBurst)
	assert.Equal(t, "20-M", cfg.RateLimitAPIRooms)
}

func TestConfig_OriginList(t *testing.T) {
	defaults := []string{"http://localhost:3000"}

	t.Setenv("PORT", "8080")
	t.Setenv("ALLOWED_ORIGINS", "https://play.example.com,https://admin.example.com")
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://play.example.com", "https://admin.example.com"},
		cfg.OriginList(defaults))

	cfg.AllowedOrigins = ""
	assert.Equal(t, defaults, cfg.OriginList(defaults))
}

func TestValidateEnv_MissingPort(t *testing.T) {
	t.Setenv("PORT", "")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT is required")
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT must be a valid port")
}

func TestValidateEnv_RangeChecks(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("ROOM_CODE_LENGTH", "12")
	t.Setenv("SYNC_SCAN_HZ", "not-a-number")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROOM_CODE_LENGTH must be between 4 and 8")
	assert.Contains(t, err.Error(), "SYNC_SCAN_HZ must be an integer")
}

func TestValidateEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ROOM_CODE_LENGTH", "6")
	t.Setenv("MAX_PLAYERS", "16")
	t.Setenv("ACK_TIMEOUT_MS", "500")
	t.Setenv("RATE_LIMIT_CLIENT", "240-M")
	t.Setenv("DEVELOPMENT_MODE", "true")

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.RoomCodeLength)
	assert.Equal(t, 16, cfg.MaxPlayers)
	assert.Equal(t, 500, cfg.AckTimeoutMs)
	assert.Equal(t, "240-M", cfg.RateLimitClient)
	assert.True(t, cfg.DevelopmentMode)
}

func TestValidateEnv_RedisAddr(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "not a host port")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR must be in format")

	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr)
}

func TestIsValidHostPort(t *testing.T) {
	assert.True(t, isValidHostPort("localhost:6379"))
	assert.True(t, isValidHostPort("10.0.0.1:1"))
	assert.False(t, isValidHostPort("localhost"))
	assert.False(t, isValidHostPort(":6379"))
	assert.False(t, isValidHostPort("localhost:0"))
	assert.False(t, isValidHostPort("localhost:port"))
	assert.False(t, isValidHostPort(strings.Repeat("a:b:", 3)))
}
