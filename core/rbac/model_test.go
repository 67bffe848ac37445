package rbac

import "testing"

func TestNormalizePermissionNames(t *testing.T) {
	valid, invalid := NormalizePermissionNames([]string{
		" bookings.view ",
		"BOOKINGS.VIEW",
		"access_logs.manage",
		"unknown.permission",
		"",
	})
	if len(valid) != 2 {
		t.Fatalf("expected 2 valid permissions, got %d", len(valid))
	}
	if len(invalid) != 1 || invalid[0] != "unknown.permission" {
		t.Fatalf("unexpected invalid permissions: %v", invalid)
	}
}

func TestIsKnownPermission(t *testing.T) {
	if !IsKnownPermission(PermAccessLogsView) {
		t.Fatal("access_logs.view must be known")
	}
	if IsKnownPermission("custom.permission") {
		t.Fatal("custom.permission must be unknown")
	}
}

func TestDefaultRolesUseKnownPermissions(t *testing.T) {
	for _, r := range DefaultRoles() {
		for _, p := range r.Permissions {
			if !IsKnownPermission(p) {
				t.Fatalf("role %s references unknown permission %s", r.Name, p)
			}
		}
	}
}
