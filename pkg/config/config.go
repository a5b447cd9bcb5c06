// Package config loads agent configuration from the environment.
//
// Precedence is process env > ./.env > ~/.config/tether-agent/env. The .env
// layers are loaded with godotenv, which never overwrites variables already
// present in the process environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all agent settings.
type Config struct {
	Host    string
	Port    int
	Token   string
	DevMode bool

	DataDir string

	// DefaultAdapter is used when a session is created without one.
	DefaultAdapter string

	// Retention settings for the maintenance loop.
	SessionRetentionDays int
	SessionIdleTimeout   time.Duration // 0 disables idle interruption
	MaintenanceInterval  time.Duration

	// Anthropic backend.
	AnthropicAPIKey string
	Model           string

	// Slack bridge; both empty disables the bridge.
	SlackToken   string
	SlackChannel string
}

// Load builds the configuration from the environment, layering .env files
// underneath the process env.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	if dir, err := os.UserConfigDir(); err == nil {
		_ = godotenv.Load(filepath.Join(dir, "tether-agent", "env"))
	}

	cfg := &Config{
		Host:                 getEnv("TETHER_AGENT_HOST", "0.0.0.0"),
		Token:                os.Getenv("TETHER_AGENT_TOKEN"),
		DefaultAdapter:       getEnv("TETHER_AGENT_ADAPTER", "claude_api"),
		MaintenanceInterval:  time.Minute,
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		Model:                getEnv("TETHER_AGENT_MODEL", "claude-sonnet-4-5"),
		SlackToken:           os.Getenv("TETHER_AGENT_SLACK_TOKEN"),
		SlackChannel:         os.Getenv("TETHER_AGENT_SLACK_CHANNEL"),
	}

	var err error
	if cfg.Port, err = getEnvInt("TETHER_AGENT_PORT", 8787); err != nil {
		return nil, err
	}
	if cfg.DevMode, err = getEnvBool("TETHER_AGENT_DEV_MODE", false); err != nil {
		return nil, err
	}
	if cfg.SessionRetentionDays, err = getEnvInt("TETHER_AGENT_SESSION_RETENTION_DAYS", 7); err != nil {
		return nil, err
	}
	idleSeconds, err := getEnvInt("TETHER_AGENT_SESSION_IDLE_SECONDS", 0)
	if err != nil {
		return nil, err
	}
	cfg.SessionIdleTimeout = time.Duration(idleSeconds) * time.Second

	cfg.DataDir = os.Getenv("TETHER_AGENT_DATA_DIR")
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".local", "share", "tether-agent")
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("TETHER_AGENT_PORT out of range: %d", cfg.Port)
	}
	if cfg.SessionRetentionDays < 1 {
		return nil, fmt.Errorf("TETHER_AGENT_SESSION_RETENTION_DAYS must be >= 1, got %d", cfg.SessionRetentionDays)
	}

	return cfg, nil
}

// AuthDisabled reports whether bearer auth should be skipped entirely.
func (c *Config) AuthDisabled() bool {
	return c.DevMode || c.Token == ""
}

// Addr is the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabasePath is the sqlite file inside the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "tether.db")
}

// WorkdirRoot is where managed session working directories are created.
func (c *Config) WorkdirRoot() string {
	return filepath.Join(c.DataDir, "workdirs")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, v)
	}
	return b, nil
}
