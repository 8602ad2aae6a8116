package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

const (
	defaultAccessSecret  = "your-super-secret-jwt-key-change-in-production"
	defaultRefreshSecret = "your-super-secret-refresh-key-change-in-production"
	defaultPepper        = "BPY89KfAWweJM5p2Vh0Zwg_-nm7wSlS8La8DxPWFAlg"
	minSecretLength      = 32
)

func Validate(cfg *AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.DBDriver)) {
	case "", "postgres", "pg":
		if strings.TrimSpace(cfg.DBURL) == "" {
			return fmt.Errorf("db_url must be set for postgres driver")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return fmt.Errorf("db_path must be set for sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported db_driver: %s", cfg.DBDriver)
	}
	access := strings.TrimSpace(cfg.Auth.AccessSecret)
	refresh := strings.TrimSpace(cfg.Auth.RefreshSecret)
	pep := strings.TrimSpace(cfg.Pepper)
	if access == "" || refresh == "" || pep == "" {
		return fmt.Errorf("auth.access_secret, auth.refresh_secret, and pepper must be set via env")
	}
	if access == refresh {
		return fmt.Errorf("auth.access_secret and auth.refresh_secret must differ")
	}
	if cfg.Auth.AccessTTL <= 0 || cfg.Auth.RefreshTTL <= 0 || cfg.Auth.RememberMeTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if cfg.Auth.MaxLoginAttempts <= 0 {
		return fmt.Errorf("auth.max_login_attempts must be positive")
	}
	if cfg.Auth.LockoutDuration <= 0 {
		return fmt.Errorf("auth.lockout_duration must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Auth.RefreshStore)) {
	case "", "sql", "memory":
	case "redis":
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr must be set when auth.refresh_store=redis")
		}
	default:
		return fmt.Errorf("unsupported auth.refresh_store: %s", cfg.Auth.RefreshStore)
	}
	if sched := strings.TrimSpace(cfg.Audit.PruneSchedule); sched != "" {
		if _, err := cron.ParseStandard(sched); err != nil {
			return fmt.Errorf("audit.prune_schedule: %w", err)
		}
	}
	appEnv := strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	if appEnv != "dev" {
		if isDefaultSecret(access) || isDefaultSecret(refresh) || isDefaultSecret(pep) {
			return fmt.Errorf("default secrets are not allowed outside APP_ENV=dev")
		}
		if len(access) < minSecretLength || len(refresh) < minSecretLength {
			return fmt.Errorf("token secrets must be at least %d characters outside APP_ENV=dev", minSecretLength)
		}
		if !cfg.TLSEnabled {
			return fmt.Errorf("tls_enabled=false is only allowed in APP_ENV=dev")
		}
	}
	return nil
}

func isDefaultSecret(val string) bool {
	switch val {
	case defaultAccessSecret, defaultRefreshSecret, defaultPepper:
		return true
	default:
		return false
	}
}
