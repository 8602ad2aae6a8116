package bootstrap

import (
	"context"
	"database/sql"
	"strings"

	"chapel-auth/config"
	"chapel-auth/core/auth"
	"chapel-auth/core/rbac"
	"chapel-auth/core/store"
	"chapel-auth/core/utils"
)

// Account is a provisioned user created at startup when absent.
type Account struct {
	Username    string
	Role        string
	Permissions []string
	Password    string
}

// ProvisionedAccounts lists the accounts every deployment starts with.
// Their passwords come from configuration; an account without one is skipped.
func ProvisionedAccounts(cfg *config.AppConfig) []Account {
	return []Account{
		{
			Username:    "admin",
			Role:        rbac.RoleAdministrator,
			Permissions: rbac.PermissionStrings(rbac.AllPermissions()),
			Password:    cfg.Bootstrap.AdminPassword,
		},
		{
			Username:    "pastor",
			Role:        rbac.RolePastor,
			Permissions: []string{string(rbac.PermManageVideos), string(rbac.PermManageSettings)},
			Password:    cfg.Bootstrap.PastorPassword,
		},
	}
}

// EnsureProvisionedUsers seeds the provisioned accounts into the database.
func EnsureProvisionedUsers(ctx context.Context, db *sql.DB, cfg *config.AppConfig, logger *utils.Logger) error {
	return EnsureProvisionedUsersWithStore(ctx, store.NewUsersStore(db), cfg, logger)
}

// EnsureProvisionedUsersWithStore never touches an existing account, so a
// changed password or a deactivation survives restarts.
func EnsureProvisionedUsersWithStore(ctx context.Context, us store.UsersStore, cfg *config.AppConfig, logger *utils.Logger) error {
	for _, acc := range ProvisionedAccounts(cfg) {
		existing, err := us.FindByUsername(ctx, acc.Username)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if strings.TrimSpace(acc.Password) == "" {
			logger.Printf("bootstrap: no password configured for %s, account not created", acc.Username)
			continue
		}
		ph, err := auth.HashPassword(acc.Password, cfg.Pepper)
		if err != nil {
			return err
		}
		u := &store.User{
			Username:     acc.Username,
			PasswordHash: ph.Hash,
			Salt:         ph.Salt,
			Role:         acc.Role,
			Permissions:  acc.Permissions,
			Active:       true,
		}
		if _, err := us.Create(ctx, u); err != nil {
			return err
		}
		logger.Printf("bootstrap: created %s (role %s)", acc.Username, acc.Role)
	}
	return nil
}
