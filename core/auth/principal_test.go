package auth

import (
	"context"
	"testing"
	"time"

	"merchant-guard/core/rbac"
	"merchant-guard/core/store"
)

func TestBuildPrincipalFlattensRolesAndPermissions(t *testing.T) {
	policy := rbac.NewPolicy(rbac.DefaultRoles())
	confirmed := time.Now()
	acc := &store.Account{ID: "a1", Username: "ann", Status: store.AccountStatusActive, IsActive: true, TOTPSecret: "enc", TOTPConfirmedAt: &confirmed}
	p := BuildPrincipal(acc, []string{"Vendor", "customer", "vendor"}, policy)
	if len(p.Roles) != 2 || p.Roles[0] != "customer" || p.Roles[1] != "vendor" {
		t.Fatalf("unexpected roles: %v", p.Roles)
	}
	if !p.HasRole("VENDOR") || p.HasRole("admin") {
		t.Fatalf("role lookup broken: %v", p.Roles)
	}
	if !p.HasPermission("bookings.create") || !p.HasPermission("services.manage") {
		t.Fatalf("expected union of customer and vendor permissions: %v", p.Permissions)
	}
	if p.HasPermission(rbac.PermAccessLogsView) {
		t.Fatalf("vendor/customer must not view access logs")
	}
	for i := 1; i < len(p.Permissions); i++ {
		if p.Permissions[i-1] >= p.Permissions[i] {
			t.Fatalf("permissions must be sorted and unique: %v", p.Permissions)
		}
	}
	if !p.TwoFactorEnabled {
		t.Fatalf("confirmed secret must enable 2FA")
	}
}

func TestBuildPrincipalTwoFactorNeedsConfirmation(t *testing.T) {
	acc := &store.Account{ID: "a1", TOTPSecret: "enc"}
	if BuildPrincipal(acc, nil, nil).TwoFactorEnabled {
		t.Fatalf("unconfirmed secret must not enable 2FA")
	}
	if BuildPrincipal(nil, nil, nil) != nil {
		t.Fatalf("nil account must yield nil principal")
	}
}

func TestPrincipalUsability(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	cases := []struct {
		name   string
		p      *Principal
		usable bool
	}{
		{"active", &Principal{IsActive: true, Status: "active"}, true},
		{"flag off", &Principal{IsActive: false, Status: "active"}, false},
		{"suspended", &Principal{IsActive: true, Status: "suspended"}, false},
		{"inactive status", &Principal{IsActive: true, Status: "inactive"}, false},
		{"lock expired", &Principal{IsActive: true, Status: "active", LockedUntil: &past}, true},
		{"locked", &Principal{IsActive: true, Status: "active", LockedUntil: &future}, false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := tc.p.Usable(now); got != tc.usable {
			t.Fatalf("%s: expected usable=%v, got %v", tc.name, tc.usable, got)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if PrincipalFromContext(ctx) != nil || GuardFromContext(ctx) != "" {
		t.Fatalf("empty context must yield zero values")
	}
	p := &Principal{ID: "x"}
	ctx = WithTokenID(WithRequestID(WithGuard(WithPrincipal(ctx, p), "api"), "req-1"), "tok-1")
	if PrincipalFromContext(ctx) != p || GuardFromContext(ctx) != "api" || RequestIDFromContext(ctx) != "req-1" || TokenIDFromContext(ctx) != "tok-1" {
		t.Fatalf("context values not round-tripped")
	}
}
