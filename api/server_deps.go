package api

import (
	"database/sql"

	"chapel-auth/core/auth"
	"chapel-auth/core/maintenance"
	"chapel-auth/core/rbac"
)

type ServerDeps struct {
	DB            *sql.DB
	Authenticator *auth.Authenticator
	Policy        *rbac.Policy
	Maintenance   *maintenance.Worker
}
