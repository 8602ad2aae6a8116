package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"chapel-auth/config"
	"chapel-auth/core/auth"
	"chapel-auth/core/rbac"
	"chapel-auth/core/store"
	"chapel-auth/core/utils"
)

var commands = map[string]bool{
	"create-user": true,
	"set-active":  true,
	"prune-audit": true,
}

// IsCommand reports whether name is an administrative sub-command rather
// than a server start.
func IsCommand(name string) bool {
	return commands[name]
}

// Env carries what the sub-commands operate on.
type Env struct {
	Cfg    *config.AppConfig
	Logger *utils.Logger
	Users  store.UsersStore
	Audit  store.AuditStore
	Policy *rbac.Policy
	Out    io.Writer
}

func Run(ctx context.Context, env Env, args []string) error {
	if len(args) == 0 {
		return errors.New("commands: create-user, set-active, prune-audit")
	}
	switch args[0] {
	case "create-user":
		return createUser(ctx, env, args[1:])
	case "set-active":
		return setActive(ctx, env, args[1:])
	case "prune-audit":
		return pruneAudit(ctx, env, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func createUser(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(env.Out)
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password")
	role := fs.String("r", rbac.RoleUser, "role")
	perms := fs.String("perms", "", "comma separated permissions (defaults to the role's)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	name := strings.TrimSpace(*username)
	if err := utils.ValidateUsername(name); err != nil {
		return fmt.Errorf("%w: %q (3-32 letters, digits, '.', '_' or '-')", err, name)
	}
	if !containsRole(env.Policy.Roles(), *role) {
		return fmt.Errorf("unknown role %q", *role)
	}
	if err := utils.ValidatePasswordWithMin(*password, env.Cfg.Auth.PasswordMinLength); err != nil {
		return err
	}
	granted := env.Policy.PermissionsForRole(*role)
	if strings.TrimSpace(*perms) != "" {
		valid, invalid := rbac.NormalizePermissionNames(splitList(*perms))
		if len(invalid) > 0 {
			return fmt.Errorf("unknown permissions: %s", strings.Join(invalid, ","))
		}
		granted = valid
	}

	ph, err := auth.HashPassword(*password, env.Cfg.Pepper)
	if err != nil {
		return err
	}
	id, err := env.Users.Create(ctx, &store.User{
		Username:     name,
		PasswordHash: ph.Hash,
		Salt:         ph.Salt,
		Role:         *role,
		Permissions:  granted,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	fmt.Fprintf(env.Out, "user %s created (id=%d role=%s permissions=%s)\n", name, id, *role, strings.Join(granted, ","))
	return nil
}

func setActive(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("set-active", flag.ContinueOnError)
	fs.SetOutput(env.Out)
	username := fs.String("u", "", "username")
	active := fs.Bool("active", true, "whether the account may sign in")
	if err := fs.Parse(args); err != nil {
		return err
	}
	u, err := env.Users.FindByUsername(ctx, strings.TrimSpace(*username))
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("user %q: %w", *username, store.ErrNotFound)
	}
	if err := env.Users.SetActive(ctx, u.ID, *active); err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "user %s active=%t\n", u.Username, *active)
	return nil
}

func pruneAudit(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("prune-audit", flag.ContinueOnError)
	fs.SetOutput(env.Out)
	keep := fs.Int("keep", env.Cfg.Audit.Retention, "number of newest events to keep")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keep < 0 {
		return errors.New("keep must not be negative")
	}
	n, err := env.Audit.Prune(ctx, *keep)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "pruned %d security events\n", n)
	return nil
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func splitList(r string) []string {
	var res []string
	for _, part := range strings.Split(r, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			res = append(res, part)
		}
	}
	return res
}
