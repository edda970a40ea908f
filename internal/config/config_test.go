package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "DATABASE_URL", "PG_DSN", "HTTP_ADDR",
		"AUTH_JWT_SECRET", "JWT_SECRET", "TOKEN_TTL",
		"FANOUT_BUFFER", "ALLOWED_ORIGIN", "SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/planter")
	t.Setenv("AUTH_JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTPAddr)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("expected default ttl, got %v", cfg.TokenTTL)
	}
	if cfg.FanoutBuffer != 16 {
		t.Fatalf("expected default buffer, got %d", cfg.FanoutBuffer)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("expected default shutdown timeout, got %v", cfg.ShutdownTimeout)
	}
}

func TestLoadRequiresDatabase(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error without a database url")
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/planter")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error without a jwt secret")
	}
}

func TestLoadFallbackNames(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PG_DSN", "postgres://localhost/planter")
	t.Setenv("JWT_SECRET", "legacy-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/planter" {
		t.Fatalf("expected PG_DSN fallback, got %q", cfg.DatabaseURL)
	}
	if cfg.JWTSecret != "legacy-secret" {
		t.Fatalf("expected JWT_SECRET fallback, got %q", cfg.JWTSecret)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("database_url: postgres://file/planter\nhttp_addr: \":9000\"\njwt_secret: file-secret\nfanout_buffer: 4\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATABASE_URL", "postgres://env/planter")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env/planter" {
		t.Fatalf("expected env to win, got %q", cfg.DatabaseURL)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("expected file addr, got %q", cfg.HTTPAddr)
	}
	if cfg.JWTSecret != "file-secret" {
		t.Fatalf("expected file secret, got %q", cfg.JWTSecret)
	}
	if cfg.FanoutBuffer != 4 {
		t.Fatalf("expected file buffer, got %d", cfg.FanoutBuffer)
	}
}
