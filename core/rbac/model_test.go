package rbac

import "testing"

func TestNormalizePermissionNames(t *testing.T) {
	valid, invalid := NormalizePermissionNames([]string{
		" manage_videos ",
		"MANAGE_VIDEOS",
		"view_analytics",
		"delete_everything",
		"",
	})
	if len(valid) != 2 || valid[0] != "manage_videos" || valid[1] != "view_analytics" {
		t.Fatalf("unexpected valid permissions: %v", valid)
	}
	if len(invalid) != 1 || invalid[0] != "delete_everything" {
		t.Fatalf("unexpected invalid permissions: %v", invalid)
	}
}

func TestIsKnownPermission(t *testing.T) {
	if !IsKnownPermission(PermManageSettings) {
		t.Fatal("manage_settings must be known")
	}
	if IsKnownPermission("custom.permission") {
		t.Fatal("custom.permission must be unknown")
	}
}

func TestDefaultRolesAreKnown(t *testing.T) {
	for _, r := range DefaultRoles() {
		if !IsKnownRole(r.Name) {
			t.Fatalf("role %s must be known", r.Name)
		}
	}
	if IsKnownRole("superadmin") {
		t.Fatal("superadmin must be unknown")
	}
}
