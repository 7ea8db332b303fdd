// Package config loads the bridge configuration from BRIDGE_* environment
// variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Postgres connection string for agent profiles, credentials, and call
	// logs.
	DatabaseURL string

	// RunMigrations applies pending schema migrations at startup.
	RunMigrations bool

	// Default chat model when an agent profile names none. A "gemini/"
	// prefix routes the call to the Gemini responder.
	DefaultModel string

	// Provider endpoint overrides, mainly for tests and proxies.
	DeepgramWSBaseURL   string
	ElevenLabsWSBaseURL string
	OpenAIBaseURL       string
	GeminiBaseURL       string

	// Per-call websocket behavior.
	WSWriteTimeout     time.Duration
	WSHandshakeTimeout time.Duration
	MaxCallDuration    time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
	TeardownTimeout     time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("BRIDGE_ADDR", ":8080"),
		DatabaseURL:         envOr("BRIDGE_DATABASE_URL", ""),
		RunMigrations:       envBoolOr("BRIDGE_RUN_MIGRATIONS", false),
		DefaultModel:        envOr("BRIDGE_DEFAULT_MODEL", "gpt-4o-mini"),
		DeepgramWSBaseURL:   envOr("BRIDGE_DEEPGRAM_WS_BASE_URL", ""),
		ElevenLabsWSBaseURL: envOr("BRIDGE_ELEVENLABS_WS_BASE_URL", ""),
		OpenAIBaseURL:       envOr("BRIDGE_OPENAI_BASE_URL", ""),
		GeminiBaseURL:       envOr("BRIDGE_GEMINI_BASE_URL", ""),
		WSWriteTimeout:      envDurationOr("BRIDGE_WS_WRITE_TIMEOUT", 10*time.Second),
		WSHandshakeTimeout:  envDurationOr("BRIDGE_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		MaxCallDuration:     envDurationOr("BRIDGE_MAX_CALL_DURATION", 2*time.Hour),
		ReadHeaderTimeout:   envDurationOr("BRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("BRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		TeardownTimeout:     envDurationOr("BRIDGE_TEARDOWN_TIMEOUT", 5*time.Second),
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("BRIDGE_DATABASE_URL must be set")
	}
	if _, err := url.Parse(cfg.DatabaseURL); err != nil {
		return Config{}, fmt.Errorf("BRIDGE_DATABASE_URL is not a valid URL: %w", err)
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		return Config{}, fmt.Errorf("BRIDGE_DEFAULT_MODEL must not be empty")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.MaxCallDuration <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_MAX_CALL_DURATION must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.TeardownTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_TEARDOWN_TIMEOUT must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
