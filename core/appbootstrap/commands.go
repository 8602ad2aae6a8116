package appbootstrap

import (
	"context"
	"fmt"
	"io"

	"chapel-auth/cli"
	"chapel-auth/config"
	"chapel-auth/core/rbac"
	"chapel-auth/core/store"
	"chapel-auth/core/utils"
)

// RunCommand opens the configured database and runs one administrative
// sub-command against it without starting the server.
func RunCommand(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger, args []string, out io.Writer) error {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}
	defer db.Close()
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return cli.Run(ctx, cli.Env{
		Cfg:    cfg,
		Logger: logger,
		Users:  store.NewUsersStore(db),
		Audit:  store.NewAuditStore(db),
		Policy: rbac.NewPolicy(rbac.DefaultRoles(), cfg.Auth.AdminRole),
		Out:    out,
	}, args)
}
