package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfig verifies the documented defaults.
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "messages.log", cfg.HistoryFile)
	assert.True(t, cfg.SeedHistory)
	assert.Equal(t, 25, cfg.HistoryLimit)
	assert.Equal(t, 5*time.Second, cfg.LoginTimeout)
	assert.Equal(t, 15*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, RateLimitConfig{Burst: 5, Window: time.Second}, cfg.RateLimit)
	assert.Zero(t, cfg.AcceptRate)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":1738")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("HISTORY_FILE", "/tmp/chat.log")
	t.Setenv("SEED_HISTORY", "false")
	t.Setenv("LOGIN_TIMEOUT", "2")
	t.Setenv("IDLE_TIMEOUT", "90s")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_WINDOW", "2s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":1738", cfg.Addr)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, "/tmp/chat.log", cfg.HistoryFile)
	assert.False(t, cfg.SeedHistory)
	assert.Equal(t, 2*time.Second, cfg.LoginTimeout)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
	assert.Equal(t, RateLimitConfig{Burst: 10, Window: 2 * time.Second}, cfg.RateLimit)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestNewConfigFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("LOGIN_TIMEOUT", "soon")
	t.Setenv("RATE_LIMIT_BURST", "-3")
	t.Setenv("SEED_HISTORY", "maybe")

	cfg := NewConfigFromEnv()

	assert.Equal(t, 5*time.Second, cfg.LoginTimeout)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.True(t, cfg.SeedHistory)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mycord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
history_file: chat.log
seed_history: false
idle_timeout: 30m
rate_limit:
  burst: 3
  window: 500ms
allowed_origins:
  - https://chat.example
`), 0o600))
	t.Setenv("SERVER_ADDR", ":9001")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// Environment wins over the file.
	assert.Equal(t, ":9001", cfg.Addr)
	assert.Equal(t, "chat.log", cfg.HistoryFile)
	assert.False(t, cfg.SeedHistory)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, RateLimitConfig{Burst: 3, Window: 500 * time.Millisecond}, cfg.RateLimit)
	assert.Equal(t, []string{"https://chat.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.LoginTimeout)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unterminated"), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{AcceptRate: 2.5})

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 25, cfg.HistoryLimit)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, time.Second, cfg.DrainTimeout)
	assert.Equal(t, 3, cfg.AcceptBurst)
}

func TestReasonTexts(t *testing.T) {
	assert.Equal(t, "Failed to receive LOGIN message within 5s", loginTimeoutReason(5*time.Second))
	assert.Equal(t, "Disconnected due to timeout (no message received in 15 minutes)", idleTimeoutReason(15*time.Minute))
	assert.Equal(t, "Disconnected due to timeout (no message received in 1 minute)", idleTimeoutReason(time.Minute))
	assert.Equal(t, "Too many messages at once (>5 in a second)", rateLimitReason(5, time.Second))
	assert.Equal(t, "Too many messages at once (>3 in 2s)", rateLimitReason(3, 2*time.Second))
	assert.Equal(t, "There are 2 user(s) connected: abc123, def456", listText([]string{"abc123", "def456"}))
}
