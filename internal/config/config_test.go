package config

import (
	"os"
	"testing"
	"time"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("FMS_BACKEND_URL", "https://fleet.example.com/api/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BackendURL != "https://fleet.example.com/api" {
		t.Fatalf("BackendURL = %q, want trailing slash trimmed", cfg.BackendURL)
	}
	if cfg.StaleTime != 5*time.Minute {
		t.Fatalf("StaleTime = %v, want 5m", cfg.StaleTime)
	}
	if cfg.Report.PageSize != 10 {
		t.Fatalf("Report.PageSize = %d, want 10", cfg.Report.PageSize)
	}
	if cfg.Report.HeaderRows != 7 {
		t.Fatalf("Report.HeaderRows = %d, want 7", cfg.Report.HeaderRows)
	}
	if cfg.Addr() != ":3001" {
		t.Fatalf("Addr() = %q, want :3001", cfg.Addr())
	}
}

func TestLoadOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("FMS_BACKEND_URL", "http://10.0.0.5:8082/api")
	t.Setenv("QUERY_STALE_TIME_MS", "1500")
	t.Setenv("REPORT_PAGE_SIZE", "25")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.local, http://b.local")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.StaleTime != 1500*time.Millisecond {
		t.Fatalf("StaleTime = %v, want 1.5s", cfg.StaleTime)
	}
	if cfg.Report.PageSize != 25 {
		t.Fatalf("Report.PageSize = %d, want 25", cfg.Report.PageSize)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.local" {
		t.Fatalf("AllowedOrigins = %v, want two trimmed origins", cfg.AllowedOrigins)
	}
}

func TestValidateRejectsRelativeBackend(t *testing.T) {
	cfg := &Config{BackendURL: "/api", StaleTime: time.Minute, Report: ReportConfig{PageSize: 10}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want non-nil")
	}
}

func TestRateLimitRuleForPath(t *testing.T) {
	chdirTemp(t)
	t.Setenv("FMS_BACKEND_URL", "http://localhost:8082/api")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	rule, ok := cfg.GetRateLimitRuleForPath("/api/session")
	if !ok {
		t.Fatal("GetRateLimitRuleForPath(/api/session) ok = false, want true")
	}
	if rule.Limit != 5 || rule.Window != time.Minute {
		t.Fatalf("login rule = %d/%v, want 5/1m", rule.Limit, rule.Window)
	}
	if _, ok := cfg.GetRateLimitRuleForPath("/api/devices"); ok {
		t.Fatal("GetRateLimitRuleForPath(/api/devices) ok = true, want false")
	}
}
