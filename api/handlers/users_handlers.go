package handlers

import (
	"net/http"

	"chapel-auth/core/rbac"
)

func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.authn.ListUsers(r.Context())
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": users})
}

type roleView struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Admin       bool     `json:"admin"`
}

// Roles lists the role catalogue with the default permissions each role is
// provisioned with.
func (h *AuthHandler) Roles(w http.ResponseWriter, r *http.Request) {
	names := h.policy.Roles()
	out := make([]roleView, 0, len(names))
	for _, name := range names {
		out = append(out, roleView{
			Name:        name,
			Permissions: h.policy.PermissionsForRole(name),
			Admin:       name == h.policy.AdminRole(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"roles":       out,
		"permissions": rbac.PermissionStrings(rbac.AllPermissions()),
	})
}
