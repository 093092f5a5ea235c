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
	Port            string
	FrontendURL     string
	DBPath          string
	AgentURL        string
	SuggestionsPath string
	Dispatch        DispatchConfig
	SSE             SSEConfig
	RateLimit       RateLimitConfig
	FeedbackLog     FeedbackLogConfig
}

// DispatchConfig controls the initial-message delivery guard.
type DispatchConfig struct {
	// MaxAttempts bounds the total number of dispatch calls per session,
	// including the first one.
	MaxAttempts int
	// RetryBackoff is the fixed delay before a retry re-evaluation.
	RetryBackoff time.Duration
}

// SSEConfig controls the browser-facing event stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	ReplayBufferSize   int
	MaxRequestBodySize int64
}

// RateLimitConfig controls per-user request throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// FeedbackLogConfig controls NDJSON feedback/conversation logging.
type FeedbackLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("FEEDBACK_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/frontend.db"),
		AgentURL:        getEnv("AGENT_URL", ""),
		SuggestionsPath: getEnv("SUGGESTIONS_PATH", ""),
		Dispatch: DispatchConfig{
			MaxAttempts:  getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
			RetryBackoff: getEnvDuration("DISPATCH_RETRY_BACKOFF", 2*time.Second),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			ReplayBufferSize:   getEnvInt("SSE_REPLAY_BUFFER_SIZE", 200),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		FeedbackLog: FeedbackLogConfig{
			Enabled:       getEnvBool("FEEDBACK_LOG_ENABLED", true),
			Dir:           getEnv("FEEDBACK_LOG_DIR", "./data/logs/feedback"),
			GlobalEnabled: getEnvBool("FEEDBACK_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("FEEDBACK_LOG_GLOBAL_PATH", "./data/logs/feedback/all.ndjson"),
			QueueSize:     queueSize,
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
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be >= 1")
	}
	if c.Dispatch.RetryBackoff <= 0 {
		return fmt.Errorf("DISPATCH_RETRY_BACKOFF must be > 0")
	}
	if c.SSE.ReplayBufferSize <= 0 {
		return fmt.Errorf("SSE_REPLAY_BUFFER_SIZE must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.FeedbackLog.Dir == "" {
		return fmt.Errorf("FEEDBACK_LOG_DIR cannot be empty")
	}
	if c.FeedbackLog.GlobalPath == "" {
		return fmt.Errorf("FEEDBACK_LOG_GLOBAL_PATH cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AgentEnabled reports whether an agent endpoint is configured.
// Without one, the chat surface is disabled and only the landing page works.
func (c *Config) AgentEnabled() bool {
	return c.AgentURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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
