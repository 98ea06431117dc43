package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWithHome_HomeFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, ok := HomeFrom(ctx); ok {
		t.Fatal("expected no home in empty context")
	}
	ctx = WithHome(ctx, "/foo/bar")
	got, ok := HomeFrom(ctx)
	if !ok || got != "/foo/bar" {
		t.Fatalf("HomeFrom: got %q, ok=%v; want /foo/bar, true", got, ok)
	}
}

func TestMustHomeFrom(t *testing.T) {
	t.Parallel()
	ctx := WithHome(context.Background(), "/taskhive")
	if got := MustHomeFrom(ctx); got != "/taskhive" {
		t.Fatalf("MustHomeFrom: got %q", got)
	}
}

func TestMustHomeFrom_panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when home missing")
		}
	}()
	MustHomeFrom(context.Background())
}

func TestResolveHome_override(t *testing.T) {
	t.Parallel()
	got, err := ResolveHome("/custom/home")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/custom/home") {
		t.Fatalf("ResolveHome: got %q", got)
	}
}

func TestResolveHome_env(t *testing.T) {
	t.Setenv("TASKHIVE_HOME", "/env/home")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/env/home") {
		t.Fatalf("ResolveHome from env: got %q", got)
	}
}

func TestResolveHome_default(t *testing.T) {
	t.Setenv("TASKHIVE_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("UserHomeDir: %v", err)
	}
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	want := filepath.Join(home, ".taskhive")
	if got != want {
		t.Fatalf("ResolveHome default: got %q, want %q", got, want)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TASKHIVE_PORT", "")
	t.Setenv("TASKHIVE_API_KEY", "")
	t.Setenv("TASKHIVE_DB_DRIVER", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultPort || cfg.DB.Driver != "sqlite" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Reclaim.MaxLockAge.Std() != 2*time.Hour || cfg.Reclaim.Interval.Std() != 5*time.Minute {
		t.Fatalf("reclaim defaults = %+v", cfg.Reclaim)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	home := t.TempDir()
	raw := `
port: 8080
api_key: file-key
db:
  driver: postgres
  url: postgres://localhost/taskhive
reclaim:
  max_lock_age: 30m
  interval: 1m
otel: true
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKHIVE_PORT", "")
	t.Setenv("TASKHIVE_API_KEY", "env-key")
	t.Setenv("TASKHIVE_DB_DRIVER", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || cfg.DB.Driver != "postgres" || cfg.DB.URL != "postgres://localhost/taskhive" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.APIKey != "env-key" {
		t.Fatalf("env should override file api_key, got %q", cfg.APIKey)
	}
	if cfg.Reclaim.MaxLockAge.Std() != 30*time.Minute || cfg.Reclaim.Interval.Std() != time.Minute {
		t.Fatalf("reclaim = %+v", cfg.Reclaim)
	}
	if !cfg.Otel {
		t.Fatal("otel should be enabled")
	}
}

func TestLoadBadYAML(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("port: [not a number"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(home); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
