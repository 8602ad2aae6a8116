package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithAliasEnv(t *testing.T) {
	t.Setenv("APP_CONFIG", "config/does-not-exist.yaml")
	t.Setenv("CHAPEL_DB_DRIVER", "postgres")
	t.Setenv("CHAPEL_LISTEN_ADDR", "127.0.0.1:8080")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "dev")
	t.Setenv("JWT_SECRET", "access-secret")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret")
	t.Setenv("PEPPER", "pepper")
	t.Setenv("LOG_DIR", filepath.FromSlash("var/logs"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9090" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.DBURL != "postgres://localhost/test" {
		t.Fatalf("unexpected db url: %s", cfg.DBURL)
	}
	if cfg.Auth.AccessSecret != "access-secret" || cfg.Auth.RefreshSecret != "refresh-secret" {
		t.Fatalf("jwt secret aliases not applied")
	}
	if cfg.Log.File != filepath.Join("var", "logs", "app.log") {
		t.Fatalf("unexpected log file: %s", cfg.Log.File)
	}
	if cfg.Log.ErrorFile != filepath.Join("var", "logs", "error.log") {
		t.Fatalf("unexpected error log file: %s", cfg.Log.ErrorFile)
	}
}

func TestLoadAppliesPolicyDefaults(t *testing.T) {
	t.Setenv("APP_CONFIG", "config/does-not-exist.yaml")
	t.Setenv("CHAPEL_DB_URL", "postgres://localhost/test")
	t.Setenv("CHAPEL_APP_ENV", "dev")
	t.Setenv("CHAPEL_AUTH_ACCESS_SECRET", "a")
	t.Setenv("CHAPEL_AUTH_REFRESH_SECRET", "b")
	t.Setenv("CHAPEL_PEPPER", "c")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Auth.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %s", cfg.Auth.AccessTTL)
	}
	if cfg.Auth.RefreshTTL != 24*time.Hour || cfg.Auth.RememberMeTTL != 720*time.Hour {
		t.Fatalf("unexpected refresh ttls: %s %s", cfg.Auth.RefreshTTL, cfg.Auth.RememberMeTTL)
	}
	if cfg.Auth.MaxLoginAttempts != 5 || cfg.Auth.LockoutDuration != 15*time.Minute {
		t.Fatalf("unexpected lockout policy: %d %s", cfg.Auth.MaxLoginAttempts, cfg.Auth.LockoutDuration)
	}
	if cfg.Audit.Retention != 1000 {
		t.Fatalf("unexpected audit retention: %d", cfg.Audit.Retention)
	}
	if cfg.DBDriver != "postgres" || cfg.Auth.RefreshStore != "sql" {
		t.Fatalf("unexpected driver/store: %s %s", cfg.DBDriver, cfg.Auth.RefreshStore)
	}
}

func TestListenAddrWithPortKeepsHost(t *testing.T) {
	if got := listenAddrWithPort("10.0.0.1:8080", "7000"); got != "10.0.0.1:7000" {
		t.Fatalf("unexpected addr: %s", got)
	}
	if got := listenAddrWithPort(":8080", "abc"); got != ":8080" {
		t.Fatalf("non-numeric port must be ignored, got %s", got)
	}
}
