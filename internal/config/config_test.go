package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "SESSION_TTL", "VIEWPORT_WIDTH", "JPEG_QUALITY", "REDIS_ADDR", "ACTION_RATE", "SESSION_REQUIRE_ID"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":3000" {
		t.Fatalf("expected :3000, got %s", cfg.Server.Addr)
	}
	if cfg.Session.TTL != 10*time.Minute {
		t.Fatalf("expected 10m TTL, got %s", cfg.Session.TTL)
	}
	if cfg.Session.DefaultID != "default" || cfg.Session.RequireID {
		t.Fatalf("unexpected session id config: %+v", cfg.Session)
	}
	if cfg.Browser.Width != 1366 || cfg.Browser.Height != 768 {
		t.Fatalf("unexpected viewport %dx%d", cfg.Browser.Width, cfg.Browser.Height)
	}
	if cfg.Session.JPEGQuality != 80 {
		t.Fatalf("expected quality 80, got %d", cfg.Session.JPEGQuality)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis should be disabled by default")
	}
	if cfg.RateLimit.RPS != 5 || cfg.RateLimit.Burst != 10 {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("SESSION_TTL", "90s")
	t.Setenv("NAVIGATE_TIMEOUT", "45000")
	t.Setenv("SESSION_REQUIRE_ID", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("INSTANCE_NAME", "pod-7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
	if cfg.Session.TTL != 90*time.Second {
		t.Fatalf("unexpected TTL %s", cfg.Session.TTL)
	}
	if cfg.Session.NavigateTimeout != 45*time.Second {
		t.Fatalf("plain numbers are milliseconds, got %s", cfg.Session.NavigateTimeout)
	}
	if !cfg.Session.RequireID {
		t.Fatalf("expected RequireID")
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.Server.CORSOrigins)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.DB != 2 {
		t.Fatalf("unexpected redis %+v", cfg.Redis)
	}
	if cfg.Session.Instance != "pod-7" {
		t.Fatalf("unexpected instance %s", cfg.Session.Instance)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                   "80 80",
		"SESSION_TTL":            "forever",
		"VIEWPORT_WIDTH":         "-1",
		"JPEG_QUALITY":           "101",
		"CHROME_HEADLESS":        "maybe",
		"SESSION_CREATE_TIMEOUT": "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}
