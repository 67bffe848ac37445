package auth

import (
	"sort"
	"strings"
	"time"

	"merchant-guard/core/rbac"
	"merchant-guard/core/store"
)

// Principal is the capability set a request is evaluated with. It is built
// once per request and never consults the store afterwards.
type Principal struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	Roles            []string   `json:"roles"`
	Permissions      []string   `json:"permissions"`
	Status           string     `json:"status"`
	IsActive         bool       `json:"is_active"`
	IsVendor         bool       `json:"is_vendor"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
}

// BuildPrincipal flattens an account and its direct roles into a Principal.
func BuildPrincipal(acc *store.Account, roles []string, policy *rbac.Policy) *Principal {
	if acc == nil {
		return nil
	}
	roleSet := map[string]struct{}{}
	for _, r := range roles {
		roleSet[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	effRoles := setToSortedSlice(roleSet)

	permSet := map[string]struct{}{}
	for _, p := range policy.PermissionsForRoles(effRoles) {
		permSet[string(p)] = struct{}{}
	}

	p := &Principal{
		ID:               acc.ID,
		Username:         acc.Username,
		Roles:            effRoles,
		Permissions:      setToSortedSlice(permSet),
		Status:           acc.Status,
		IsActive:         acc.IsActive,
		IsVendor:         acc.IsVendor,
		TwoFactorEnabled: strings.TrimSpace(acc.TOTPSecret) != "" && acc.TOTPConfirmedAt != nil,
	}
	if acc.LockedUntil != nil {
		until := acc.LockedUntil.UTC()
		p.LockedUntil = &until
	}
	return p
}

func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range p.Roles {
		if strings.ToLower(r) == role {
			return true
		}
	}
	return false
}

func (p *Principal) HasPermission(perm rbac.Permission) bool {
	if p == nil {
		return false
	}
	for _, v := range p.Permissions {
		if v == string(perm) {
			return true
		}
	}
	return false
}

// IsLocked is true iff locked_until is set and still in the future.
func (p *Principal) IsLocked(now time.Time) bool {
	return p != nil && p.LockedUntil != nil && p.LockedUntil.After(now)
}

// IsEligible combines the active flag with the account status.
func (p *Principal) IsEligible() bool {
	return p != nil && p.IsActive && p.Status == store.AccountStatusActive
}

func (p *Principal) Usable(now time.Time) bool {
	return p.IsEligible() && !p.IsLocked(now)
}

func setToSortedSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
