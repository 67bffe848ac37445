package guard

import (
	"reflect"
	"testing"
	"time"

	"merchant-guard/config"
	"merchant-guard/core/auth"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	reg, err := NewRegistry(config.DefaultGuards())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	r, err := NewResolver(reg)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return r
}

func TestEligibleGuardsByRole(t *testing.T) {
	r := newTestResolver(t)
	cases := []struct {
		name string
		p    *auth.Principal
		want []string
	}{
		{"nil principal", nil, []string{"api", "web"}},
		{"no roles", &auth.Principal{}, []string{"api", "web"}},
		{"customer", &auth.Principal{Roles: []string{"customer"}}, []string{"api", "web"}},
		{"vendor role", &auth.Principal{Roles: []string{"vendor"}}, []string{"api", "api_vendor", "vendor", "web"}},
		{"vendor flag", &auth.Principal{IsVendor: true}, []string{"api", "api_vendor", "vendor", "web"}},
		{"admin", &auth.Principal{Roles: []string{"admin"}}, []string{"admin", "api", "api_admin", "web"}},
		{"superadmin", &auth.Principal{Roles: []string{"superadmin"}}, []string{"admin", "api", "api_admin", "api_superadmin", "api_vendor", "superadmin", "vendor", "web"}},
	}
	for _, tc := range cases {
		if got := r.EligibleGuards(tc.p); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestSuperadminEligibleForEveryGuard(t *testing.T) {
	r := newTestResolver(t)
	p := &auth.Principal{Roles: []string{"superadmin"}}
	if got := r.EligibleGuards(p); !reflect.DeepEqual(got, r.Registry().Names()) {
		t.Fatalf("superadmin must be eligible for all guards, got %v", got)
	}
}

func TestPrimaryGuardPrecedence(t *testing.T) {
	r := newTestResolver(t)
	cases := []struct {
		roles    []string
		isVendor bool
		want     string
	}{
		{nil, false, "api"},
		{[]string{"customer"}, false, "api"},
		{[]string{"vendor"}, false, "api_vendor"},
		{nil, true, "api_vendor"},
		{[]string{"admin"}, false, "api_admin"},
		{[]string{"vendor", "admin"}, false, "api_admin"},
		{[]string{"admin", "vendor", "superadmin"}, false, "api_superadmin"},
		{[]string{"superadmin"}, true, "api_superadmin"},
	}
	for _, tc := range cases {
		p := &auth.Principal{Roles: tc.roles, IsVendor: tc.isVendor}
		if got := r.PrimaryGuard(p); got != tc.want {
			t.Fatalf("roles=%v vendor=%v: expected %s, got %s", tc.roles, tc.isVendor, tc.want, got)
		}
	}
	if got := r.PrimaryGuard(nil); got != "api" {
		t.Fatalf("nil principal: expected api, got %s", got)
	}
}

func TestPrimaryGuardFallsBackToSessionGuard(t *testing.T) {
	guards := map[string]config.GuardConfig{
		"web":         {AccountClass: config.ClassUser, Driver: config.DriverSession, Lifetime: time.Hour},
		"backoffice":  {AccountClass: config.ClassAdmin, Driver: config.DriverSession, Lifetime: time.Hour},
		"partner_api": {AccountClass: config.ClassVendor, Driver: config.DriverToken, Lifetime: time.Hour},
	}
	reg, err := NewRegistry(guards)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	r, err := NewResolver(reg)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	if got := r.PrimaryGuard(&auth.Principal{Roles: []string{"admin"}}); got != "backoffice" {
		t.Fatalf("expected backoffice, got %s", got)
	}
	if got := r.PrimaryGuard(&auth.Principal{IsVendor: true}); got != "partner_api" {
		t.Fatalf("expected partner_api, got %s", got)
	}
	if got := r.PrimaryGuard(&auth.Principal{}); got != "web" {
		t.Fatalf("expected web, got %s", got)
	}
}

func TestIsEligible(t *testing.T) {
	r := newTestResolver(t)
	p := &auth.Principal{Roles: []string{"admin"}}
	if !r.IsEligible(p, "api_admin") || r.IsEligible(p, "api_vendor") || r.IsEligible(p, "unknown") {
		t.Fatalf("unexpected eligibility for admin")
	}
}
