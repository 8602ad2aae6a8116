package appbootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"chapel-auth/api"
	"chapel-auth/config"
	"chapel-auth/core/auth"
	"chapel-auth/core/maintenance"
	"chapel-auth/core/rbac"
	"chapel-auth/core/store"
	"chapel-auth/core/utils"
	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 3 * time.Second

type composition struct {
	users      store.UsersStore
	serverDeps api.ServerDeps
	workers    []api.BackgroundWorker
	closers    []io.Closer
}

func composeRuntime(ctx context.Context, cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*composition, error) {
	users := store.NewUsersStore(db)
	audit := store.NewAuditStore(db)
	refresh, closer, err := OpenRefreshStore(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	var closers []io.Closer
	if closer != nil {
		closers = append(closers, closer)
	}
	issuer, err := auth.NewTokenIssuer(TokenConfig(cfg), refresh)
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("token issuer: %w", err)
	}
	authn, err := auth.NewAuthenticator(auth.AuthenticatorDeps{
		Users:             users,
		Audit:             audit,
		Tokens:            issuer,
		Logger:            logger,
		Pepper:            cfg.Pepper,
		Lockout:           LockoutPolicy(cfg),
		PasswordMinLength: cfg.Auth.PasswordMinLength,
	})
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("authenticator: %w", err)
	}
	worker := maintenance.NewWorker(maintenance.Config{
		Retention: cfg.Audit.Retention,
		Schedule:  cfg.Audit.PruneSchedule,
	}, audit, refresh, logger)
	return &composition{
		users: users,
		serverDeps: api.ServerDeps{
			DB:            db,
			Authenticator: authn,
			Policy:        rbac.NewPolicy(rbac.DefaultRoles(), cfg.Auth.AdminRole),
			Maintenance:   worker,
		},
		workers: []api.BackgroundWorker{worker},
		closers: closers,
	}, nil
}

func TokenConfig(cfg *config.AppConfig) auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		Issuer:        cfg.Auth.Issuer,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
		RememberMeTTL: cfg.Auth.RememberMeTTL,
	}
}

func LockoutPolicy(cfg *config.AppConfig) store.LockoutPolicy {
	return store.LockoutPolicy{MaxAttempts: cfg.Auth.MaxLoginAttempts, Duration: cfg.Auth.LockoutDuration}
}

// OpenRefreshStore selects the refresh token backend. The returned closer is
// non-nil only when the backend owns a connection.
func OpenRefreshStore(ctx context.Context, cfg *config.AppConfig, db *sql.DB) (store.RefreshStore, io.Closer, error) {
	switch cfg.Auth.RefreshStore {
	case "", "sql":
		return store.NewRefreshStore(db), nil, nil
	case "memory":
		return store.NewMemoryRefreshStore(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		return store.NewRedisRefreshStore(client, cfg.Redis.Prefix), client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported refresh store %q", cfg.Auth.RefreshStore)
	}
}
