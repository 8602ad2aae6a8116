package rbac

import (
	"sort"
	"strings"
)

type Permission string

type Role struct {
	Name        string
	Permissions []Permission
}

const (
	PermManageVideos   Permission = "manage_videos"
	PermManageUsers    Permission = "manage_users"
	PermManageSettings Permission = "manage_settings"
	PermViewAnalytics  Permission = "view_analytics"
)

const (
	RoleAdministrator = "administrator"
	RolePastor        = "pastor"
	RoleUser          = "user"
)

var permissions = []Permission{
	PermManageVideos,
	PermManageUsers,
	PermManageSettings,
	PermViewAnalytics,
}

var knownPermissionSet = buildPermissionSet()

func buildPermissionSet() map[Permission]struct{} {
	out := make(map[Permission]struct{}, len(permissions))
	for _, p := range permissions {
		out[p] = struct{}{}
	}
	return out
}

func AllPermissions() []Permission {
	out := make([]Permission, len(permissions))
	copy(out, permissions)
	return out
}

func IsKnownPermission(p Permission) bool {
	_, ok := knownPermissionSet[p]
	return ok
}

// NormalizePermissionNames splits input into known and unknown names, both
// lowercased, deduplicated and sorted.
func NormalizePermissionNames(in []string) ([]string, []string) {
	validSet := map[string]struct{}{}
	invalidSet := map[string]struct{}{}
	for _, raw := range in {
		p := strings.ToLower(strings.TrimSpace(raw))
		if p == "" {
			continue
		}
		if IsKnownPermission(Permission(p)) {
			validSet[p] = struct{}{}
			continue
		}
		invalidSet[p] = struct{}{}
	}
	return sortedKeys(validSet), sortedKeys(invalidSet)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var roles = []Role{
	{Name: RoleAdministrator, Permissions: permissions},
	{Name: RolePastor, Permissions: []Permission{PermManageVideos, PermManageSettings}},
	{Name: RoleUser, Permissions: []Permission{}},
}

func DefaultRoles() []Role {
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

func IsKnownRole(name string) bool {
	for _, r := range roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

func PermissionStrings(perms []Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}
