package guard

import (
	_ "embed"
	"fmt"
	"sort"

	"merchant-guard/config"
	"merchant-guard/core/auth"
	"merchant-guard/core/rbac"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var casbinModelContent string

// tierOrder is the primary-guard precedence, most privileged first.
var tierOrder = []string{config.ClassSuperadmin, config.ClassAdmin, config.ClassVendor, config.ClassUser}

// classInheritance lets a higher account class use every guard of the classes it contains.
var classInheritance = [][2]string{
	{config.ClassAdmin, config.ClassUser},
	{config.ClassVendor, config.ClassUser},
	{config.ClassSuperadmin, config.ClassAdmin},
	{config.ClassSuperadmin, config.ClassVendor},
}

// Resolver computes guard eligibility from a principal's role tags.
// The casbin table is evaluated once per tier at construction.
type Resolver struct {
	registry *Registry
	byTier   map[string]map[string]struct{}
}

func NewResolver(registry *Registry) (*Resolver, error) {
	if registry == nil {
		return nil, fmt.Errorf("nil guard registry")
	}
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	for _, edge := range classInheritance {
		if _, err := enforcer.AddGroupingPolicy(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add class inheritance %s->%s: %w", edge[0], edge[1], err)
		}
	}
	for _, d := range registry.All() {
		if _, err := enforcer.AddPolicy(d.Class, d.Name); err != nil {
			return nil, fmt.Errorf("add guard policy %s: %w", d.Name, err)
		}
	}
	r := &Resolver{registry: registry, byTier: map[string]map[string]struct{}{}}
	for _, tier := range tierOrder {
		set := map[string]struct{}{}
		for _, name := range registry.Names() {
			ok, err := enforcer.Enforce(tier, name)
			if err != nil {
				return nil, fmt.Errorf("evaluate %s for %s: %w", name, tier, err)
			}
			if ok {
				set[name] = struct{}{}
			}
		}
		r.byTier[tier] = set
	}
	return r, nil
}

// Tiers maps role tags and the vendor flag to account classes. Every principal,
// including one without roles, holds the user tier.
func Tiers(p *auth.Principal) []string {
	tiers := []string{}
	if p.HasRole(rbac.RoleSuperadmin) {
		tiers = append(tiers, config.ClassSuperadmin)
	}
	if p.HasRole(rbac.RoleAdmin) {
		tiers = append(tiers, config.ClassAdmin)
	}
	if p.HasRole(rbac.RoleVendor) || (p != nil && p.IsVendor) {
		tiers = append(tiers, config.ClassVendor)
	}
	return append(tiers, config.ClassUser)
}

// EligibleGuards returns the sorted guard names the principal may authenticate with.
func (r *Resolver) EligibleGuards(p *auth.Principal) []string {
	set := map[string]struct{}{}
	for _, tier := range Tiers(p) {
		for name := range r.byTier[tier] {
			set[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Resolver) IsEligible(p *auth.Principal, guard string) bool {
	for _, tier := range Tiers(p) {
		if _, ok := r.byTier[tier][guard]; ok {
			return true
		}
	}
	return false
}

// PrimaryGuard picks the most privileged tier the principal holds and, within
// it, prefers the token guard over the session guard.
func (r *Resolver) PrimaryGuard(p *auth.Principal) string {
	held := map[string]bool{}
	for _, t := range Tiers(p) {
		held[t] = true
	}
	for _, tier := range tierOrder {
		if !held[tier] {
			continue
		}
		if name := r.preferredGuardOfClass(tier); name != "" {
			return name
		}
	}
	if _, ok := r.registry.Lookup("api"); ok {
		return "api"
	}
	if eligible := r.EligibleGuards(p); len(eligible) > 0 {
		return eligible[0]
	}
	return ""
}

func (r *Resolver) preferredGuardOfClass(class string) string {
	conventional := "api_" + class
	if class == config.ClassUser {
		conventional = "api"
	}
	if d, ok := r.registry.Lookup(conventional); ok && d.Class == class {
		return conventional
	}
	var session string
	for _, d := range r.registry.All() {
		if d.Class != class {
			continue
		}
		if d.TokenBearing() {
			return d.Name
		}
		if session == "" {
			session = d.Name
		}
	}
	return session
}

func (r *Resolver) Registry() *Registry {
	return r.registry
}
