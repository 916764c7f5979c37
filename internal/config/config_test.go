package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Errorf("addrs = %q, %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.PresenceBackend != BackendMemory || cfg.Region != "US" {
		t.Errorf("presence = %q, region = %q", cfg.PresenceBackend, cfg.Region)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.AuthEnabled() {
		t.Error("AuthEnabled() = true without secret")
	}
}

func TestLoadEnvOverridesFlags(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("DEFAULT_REGION", "gb")
	t.Setenv("PRESENCE_BACKEND", "Redis")
	t.Setenv("PRESENCE_REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load([]string{"-http", ":7000", "-loglevel", "info", "-region", "DE"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want env value", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want flag value", cfg.LogLevel)
	}
	if cfg.Region != "GB" || cfg.PresenceBackend != BackendRedis || cfg.RedisAddr != "redis:6379" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.AuthEnabled() || cfg.ShutdownTimeout != 3*time.Second {
		t.Errorf("auth = %v, shutdown = %v", cfg.AuthEnabled(), cfg.ShutdownTimeout)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		LogLevel:        "loud",
		Region:          "USA",
		RecordingsURL:   "no-scheme",
		PresenceBackend: BackendPostgres,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{
		"http address",
		"log level",
		"region",
		"recordings url",
		"PRESENCE_POSTGRES_DSN",
		"shutdown timeout",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	if _, err := Load([]string{"-presence", "etcd"}); err == nil {
		t.Error("Load() error = nil for unknown backend")
	}
}
