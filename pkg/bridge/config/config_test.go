package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("BRIDGE_DATABASE_URL", "postgres://bridge:pw@localhost:5432/bridge")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.DefaultModel != "gpt-4o-mini" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.WSWriteTimeout != 10*time.Second {
		t.Errorf("WSWriteTimeout = %v", cfg.WSWriteTimeout)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Errorf("ShutdownGracePeriod = %v", cfg.ShutdownGracePeriod)
	}
	if cfg.RunMigrations {
		t.Error("RunMigrations defaulted to true")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("BRIDGE_DATABASE_URL", "postgres://bridge:pw@db:5432/bridge")
	t.Setenv("BRIDGE_ADDR", ":9090")
	t.Setenv("BRIDGE_DEFAULT_MODEL", "gemini/gemini-2.0-flash")
	t.Setenv("BRIDGE_RUN_MIGRATIONS", "true")
	t.Setenv("BRIDGE_WS_WRITE_TIMEOUT", "2s")
	t.Setenv("BRIDGE_DEEPGRAM_WS_BASE_URL", "ws://127.0.0.1:7001")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.DefaultModel != "gemini/gemini-2.0-flash" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if !cfg.RunMigrations {
		t.Error("RunMigrations = false")
	}
	if cfg.WSWriteTimeout != 2*time.Second {
		t.Errorf("WSWriteTimeout = %v", cfg.WSWriteTimeout)
	}
	if cfg.DeepgramWSBaseURL != "ws://127.0.0.1:7001" {
		t.Errorf("DeepgramWSBaseURL = %q", cfg.DeepgramWSBaseURL)
	}
}

func TestLoadFromEnv_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("BRIDGE_DATABASE_URL", "")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error without database url")
	}
}

func TestLoadFromEnv_RejectsInvalidDurations(t *testing.T) {
	t.Setenv("BRIDGE_DATABASE_URL", "postgres://bridge:pw@localhost/bridge")
	t.Setenv("BRIDGE_WS_WRITE_TIMEOUT", "-1s")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for negative write timeout")
	}
}

func TestEnvBoolOr(t *testing.T) {
	t.Setenv("BRIDGE_TEST_BOOL", "yes")
	if !envBoolOr("BRIDGE_TEST_BOOL", false) {
		t.Error("yes parsed as false")
	}
	t.Setenv("BRIDGE_TEST_BOOL", "off")
	if envBoolOr("BRIDGE_TEST_BOOL", true) {
		t.Error("off parsed as true")
	}
	t.Setenv("BRIDGE_TEST_BOOL", "maybe")
	if !envBoolOr("BRIDGE_TEST_BOOL", true) {
		t.Error("unparseable value did not fall back to default")
	}
}
