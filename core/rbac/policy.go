package rbac

import (
	"sort"
	"strings"
	"sync"
)

// Policy maps role names to permission sets. Safe for concurrent use.
type Policy struct {
	mu        sync.RWMutex
	rolePerms map[string]map[Permission]struct{}
}

func NewPolicy(roles []Role) *Policy {
	p := &Policy{rolePerms: map[string]map[Permission]struct{}{}}
	p.Replace(roles)
	return p
}

func (p *Policy) Allowed(userRoles []string, perm Permission) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range userRoles {
		if perms, ok := p.rolePerms[normalizeRole(r)]; ok {
			if _, ok := perms[perm]; ok {
				return true
			}
		}
	}
	return false
}

func (p *Policy) Roles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.rolePerms))
	for k := range p.rolePerms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PermissionsForRoles returns the sorted union of permissions for the provided roles.
func (p *Policy) PermissionsForRoles(roles []string) []Permission {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := map[Permission]struct{}{}
	for _, r := range roles {
		if perms, ok := p.rolePerms[normalizeRole(r)]; ok {
			for perm := range perms {
				set[perm] = struct{}{}
			}
		}
	}
	out := make([]Permission, 0, len(set))
	for perm := range set {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Policy) Replace(roles []Role) {
	rp := make(map[string]map[Permission]struct{}, len(roles))
	for _, r := range roles {
		m := make(map[Permission]struct{}, len(r.Permissions))
		for _, perm := range r.Permissions {
			m[perm] = struct{}{}
		}
		rp[normalizeRole(r.Name)] = m
	}
	p.mu.Lock()
	p.rolePerms = rp
	p.mu.Unlock()
}

func normalizeRole(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
