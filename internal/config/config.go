// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	DBPath           string
	OrchestratorAddr string
	SessionTTL       time.Duration
	EventArchiveTTL  time.Duration
	RateLimit        int
	RateLimitWindow  time.Duration
	Sidebar          SidebarConfig
}

// SidebarConfig configures the sidebar client runtime.
type SidebarConfig struct {
	AgentBaseURL string
	Transport    string // "ndjson" (default) or "websocket"
	QueryTimeout time.Duration
	RetryMax     int
	RetryBase    time.Duration
	RetryCap     time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/pulse.db"),
		OrchestratorAddr: getEnv("ORCHESTRATOR_ADDR", "http://localhost:8001"),
		SessionTTL:       getEnvDuration("SESSION_TTL", 24*time.Hour),
		EventArchiveTTL:  getEnvDuration("EVENT_ARCHIVE_TTL", 7*24*time.Hour),
		RateLimit:        getEnvInt("RATE_LIMIT", 30),
		RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		Sidebar: SidebarConfig{
			AgentBaseURL: getEnv("PULSE_AGENT_URL", "http://localhost:8080"),
			Transport:    getEnv("PULSE_STREAM_TRANSPORT", "ndjson"),
			QueryTimeout: getEnvDuration("PULSE_QUERY_TIMEOUT", 60*time.Second),
			RetryMax:     getEnvInt("PULSE_STREAM_RETRY_MAX", 0),
			RetryBase:    getEnvDuration("PULSE_STREAM_RETRY_BASE", time.Second),
			RetryCap:     getEnvDuration("PULSE_STREAM_RETRY_CAP", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.OrchestratorAddr == "" {
		return fmt.Errorf("ORCHESTRATOR_ADDR cannot be empty")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be > 0")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Sidebar.AgentBaseURL == "" {
		return fmt.Errorf("PULSE_AGENT_URL cannot be empty")
	}
	switch c.Sidebar.Transport {
	case "ndjson", "websocket":
	default:
		return fmt.Errorf("PULSE_STREAM_TRANSPORT must be \"ndjson\" or \"websocket\"")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
