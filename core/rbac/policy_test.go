package rbac

import "testing"

func TestPolicyPermissionsForRole_DefaultRoles(t *testing.T) {
	p := NewPolicy(DefaultRoles(), RoleAdministrator)
	if got := p.PermissionsForRole(RoleAdministrator); len(got) != len(AllPermissions()) {
		t.Fatalf("administrator must carry every permission, got %v", got)
	}
	if got := p.PermissionsForRole(RolePastor); len(got) != 2 || got[0] != "manage_settings" || got[1] != "manage_videos" {
		t.Fatalf("unexpected pastor permissions: %v", got)
	}
	if got := p.PermissionsForRole(RoleUser); got == nil || len(got) != 0 {
		t.Fatalf("user must have an empty permission set, got %v", got)
	}
}

func TestPolicySatisfiesRole(t *testing.T) {
	p := NewPolicy(DefaultRoles(), RoleAdministrator)
	cases := []struct {
		actual, required string
		want             bool
	}{
		{RolePastor, RolePastor, true},
		{RoleAdministrator, RolePastor, true},
		{RoleAdministrator, "auditor", true},
		{RoleUser, RolePastor, false},
		{RolePastor, RoleAdministrator, false},
		{"", RoleUser, false},
		{"custom", "custom", true},
	}
	for _, tc := range cases {
		if got := p.SatisfiesRole(tc.actual, tc.required); got != tc.want {
			t.Fatalf("SatisfiesRole(%q, %q) = %v, want %v", tc.actual, tc.required, got, tc.want)
		}
	}
}

func TestPolicyCustomAdminRole(t *testing.T) {
	p := NewPolicy(DefaultRoles(), "root")
	if p.SatisfiesRole(RoleAdministrator, RolePastor) {
		t.Fatal("administrator is not the admin role here")
	}
	if !p.SatisfiesRole("root", RolePastor) {
		t.Fatal("root must satisfy any role")
	}
}

func TestPolicyReplace_RebuildsEnforcer(t *testing.T) {
	p := NewPolicy(nil, "")
	p.Replace([]Role{{Name: "editor", Permissions: []Permission{PermManageVideos}}})

	if p.SatisfiesRole("editor", RoleAdministrator) {
		t.Fatal("editor must not satisfy the administrator role")
	}
	if got := p.PermissionsForRole("editor"); len(got) != 1 || got[0] != "manage_videos" {
		t.Fatalf("unexpected permissions: %v", got)
	}
	if got := p.PermissionsForRole("missing"); len(got) != 0 {
		t.Fatalf("expected no permissions, got %v", got)
	}
	if roles := p.Roles(); len(roles) != 1 || roles[0] != "editor" {
		t.Fatalf("unexpected roles: %v", roles)
	}
}
