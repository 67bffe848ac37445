package rbac

import (
	"sort"
	"strings"
)

const (
	RoleSuperadmin = "superadmin"
	RoleAdmin      = "admin"
	RoleVendor     = "vendor"
	RoleStaff      = "staff"
	RoleCustomer   = "customer"
)

const (
	PermAccessLogsView   Permission = "access_logs.view"
	PermAccessLogsManage Permission = "access_logs.manage"
	PermTokensManage     Permission = "tokens.manage"
)

var permissions = []Permission{
	"profile.view", "profile.edit",
	"bookings.view", "bookings.create", "bookings.cancel", "bookings.manage",
	"services.view", "services.manage",
	"merchants.view", "merchants.manage",
	"notifications.view", "notifications.manage",
	"accounts.view", "accounts.manage",
	"request_logs.view",
	PermTokensManage,
	PermAccessLogsView, PermAccessLogsManage,
}

var knownPermissionSet = buildPermissionSet()

func buildPermissionSet() map[Permission]struct{} {
	out := make(map[Permission]struct{}, len(permissions))
	for _, p := range permissions {
		out[p] = struct{}{}
	}
	return out
}

func IsKnownPermission(p Permission) bool {
	_, ok := knownPermissionSet[p]
	return ok
}

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
	valid := make([]string, 0, len(validSet))
	for p := range validSet {
		valid = append(valid, p)
	}
	sort.Strings(valid)
	invalid := make([]string, 0, len(invalidSet))
	for p := range invalidSet {
		invalid = append(invalid, p)
	}
	sort.Strings(invalid)
	return valid, invalid
}

var roles = []Role{
	{Name: RoleSuperadmin, Permissions: permissions},
	{Name: RoleAdmin, Permissions: []Permission{"profile.view", "profile.edit", "bookings.view", "bookings.manage", "services.view", "services.manage", "merchants.view", "merchants.manage", "notifications.view", "notifications.manage", "accounts.view", "accounts.manage", "request_logs.view", PermTokensManage, PermAccessLogsView}},
	{Name: RoleVendor, Permissions: []Permission{"profile.view", "profile.edit", "bookings.view", "bookings.manage", "services.view", "services.manage", "merchants.view", "notifications.view"}},
	{Name: RoleStaff, Permissions: []Permission{"profile.view", "bookings.view", "bookings.manage", "services.view", "notifications.view"}},
	{Name: RoleCustomer, Permissions: []Permission{"profile.view", "profile.edit", "bookings.view", "bookings.create", "bookings.cancel", "services.view", "notifications.view"}},
}

func DefaultRoles() []Role {
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}
