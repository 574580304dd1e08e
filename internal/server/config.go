// Package server provides configuration helpers that define runtime defaults,
// validation, and deadline and rate-limiting parameters for the chat server.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the per-session sliding window for MESSAGE_SEND frames.
type RateLimitConfig struct {
	Burst  int           `yaml:"burst"`
	Window time.Duration `yaml:"window"`
}

// Config holds the server configuration settings.
type Config struct {
	Addr           string          `yaml:"addr"`
	HTTPAddr       string          `yaml:"http_addr"`
	HistoryFile    string          `yaml:"history_file"`
	SeedHistory    bool            `yaml:"seed_history"`
	HistoryLimit   int             `yaml:"history_limit"`
	LoginTimeout   time.Duration   `yaml:"login_timeout"`
	IdleTimeout    time.Duration   `yaml:"idle_timeout"`
	WriteTimeout   time.Duration   `yaml:"write_timeout"`
	DrainTimeout   time.Duration   `yaml:"drain_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	AcceptRate     float64         `yaml:"accept_rate"`
	AcceptBurst    int             `yaml:"accept_burst"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	LogLevel       string          `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		Addr:         ":8080",
		HTTPAddr:     ":8081",
		HistoryFile:  "messages.log",
		SeedHistory:  true,
		HistoryLimit: 25,
		LoginTimeout: 5 * time.Second,
		IdleTimeout:  15 * time.Minute,
		WriteTimeout: 10 * time.Second,
		DrainTimeout: time.Second,
		RateLimit: RateLimitConfig{
			Burst:  5,
			Window: time.Second,
		},
		AllowedOrigins: []string{
			"http://localhost:8081",
		},
		LogLevel: "info",
	}
}

// sanitizeConfig replaces unusable values with their defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.HistoryFile == "" {
		cfg.HistoryFile = def.HistoryFile
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = def.LoginTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = def.RateLimit.Window
	}
	if cfg.AcceptRate < 0 {
		cfg.AcceptRate = 0
	}
	if cfg.AcceptRate > 0 && cfg.AcceptBurst <= 0 {
		cfg.AcceptBurst = int(cfg.AcceptRate) + 1
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	return &cfg
}

// LoadConfig builds the effective configuration: defaults, then the YAML file
// at path (skipped when path is empty), then environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("HISTORY_FILE"); v != "" {
		cfg.HistoryFile = v
	}
	if v := os.Getenv("SEED_HISTORY"); v != "" {
		cfg.SeedHistory = parseBool(v, cfg.SeedHistory)
	}
	if v := os.Getenv("HISTORY_LIMIT"); v != "" {
		cfg.HistoryLimit = parseIntValue(v, cfg.HistoryLimit)
	}
	if v := os.Getenv("LOGIN_TIMEOUT"); v != "" {
		cfg.LoginTimeout = parseDuration(v, cfg.LoginTimeout)
	}
	if v := os.Getenv("IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout = parseDuration(v, cfg.IdleTimeout)
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		cfg.WriteTimeout = parseDuration(v, cfg.WriteTimeout)
	}
	if v := os.Getenv("DRAIN_TIMEOUT"); v != "" {
		cfg.DrainTimeout = parseDuration(v, cfg.DrainTimeout)
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		cfg.RateLimit.Burst = parseIntValue(v, cfg.RateLimit.Burst)
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		cfg.RateLimit.Window = parseDuration(v, cfg.RateLimit.Window)
	}
	if v := os.Getenv("ACCEPT_RATE"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 {
			cfg.AcceptRate = r
		}
	}
	if v := os.Getenv("ACCEPT_BURST"); v != "" {
		cfg.AcceptBurst = parseIntValue(v, cfg.AcceptBurst)
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = parseOrigins(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("90s", "15m") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
