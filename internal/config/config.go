// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/data-assistant/internal/chat"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	DBPath           string
	AllowedOrigins   []string
	Query            QueryConfig
	ConversationTTL  time.Duration
	// SocketCloseGrace keeps a conversation after its websocket drops so the
	// page can reconnect.
	SocketCloseGrace time.Duration
	RateLimit        RateLimitConfig
	AuditEnabled     bool
	Retention        time.Duration
}

// QueryConfig describes the remote query service.
type QueryConfig struct {
	URL     string
	Timeout time.Duration // 0 disables the client timeout
	Mode    chat.Mode
}

// RateLimitConfig bounds how many queries one user may submit per window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	mode, err := chat.ParseMode(getEnv("RENDER_MODE", string(chat.ModeSteps)))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: RENDER_MODE: %w", err)
	}

	frontendURL := getEnv("FRONTEND_URL", "")
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    frontendURL,
		DBPath:         getEnv("DB_PATH", "./data/assistant.db"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", frontendURL)),
		Query: QueryConfig{
			URL:     getEnv("QUERY_SERVICE_URL", "http://127.0.0.1:5000/query"),
			Timeout: getEnvDuration("QUERY_TIMEOUT", 2*time.Minute),
			Mode:    mode,
		},
		ConversationTTL:  getEnvDuration("CONVERSATION_TTL", 30*time.Minute),
		SocketCloseGrace: getEnvDuration("SOCKET_CLOSE_GRACE", 30*time.Second),
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		AuditEnabled: getEnvBool("AUDIT_ENABLED", true),
		Retention:    getEnvDuration("EXCHANGE_RETENTION", 7*24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	u, err := url.Parse(c.Query.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("QUERY_SERVICE_URL must be an absolute http(s) URL, got %q", c.Query.URL)
	}
	if c.Query.Timeout < 0 {
		return errors.New("QUERY_TIMEOUT must be >= 0")
	}
	if c.ConversationTTL <= 0 {
		return errors.New("CONVERSATION_TTL must be > 0")
	}
	if c.SocketCloseGrace < 0 {
		return errors.New("SOCKET_CLOSE_GRACE must be >= 0")
	}
	if c.RateLimit.Requests <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Retention < 0 {
		return errors.New("EXCHANGE_RETENTION must be >= 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
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

// getEnvDuration accepts Go durations ("90s", "2m") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
