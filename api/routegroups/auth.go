package routegroups

import (
	"chapel-auth/api/handlers"
	"chapel-auth/core/rbac"
	"github.com/go-chi/chi/v5"
)

func RegisterAuth(apiRouter chi.Router, g Guards, h *handlers.AuthHandler) {
	apiRouter.Route("/auth", func(authRouter chi.Router) {
		authRouter.MethodFunc("POST", "/login", g.Limited(h.Login))
		authRouter.MethodFunc("POST", "/refresh", h.Refresh)
		authRouter.MethodFunc("POST", "/logout", g.Session(h.Logout))
		authRouter.MethodFunc("GET", "/verify", g.Session(h.Verify))
		authRouter.MethodFunc("GET", "/session", g.Optional(h.Session))
		authRouter.MethodFunc("POST", "/change-password", g.Session(h.ChangePassword))
		authRouter.MethodFunc("GET", "/users", g.SessionPerm(string(rbac.PermManageUsers), h.ListUsers))
		authRouter.MethodFunc("GET", "/security-events", g.SessionPerm(string(rbac.PermViewAnalytics), h.SecurityEvents))
		authRouter.MethodFunc("GET", "/roles", g.SessionRole(rbac.RoleAdministrator, h.Roles))
	})
}
