package guard

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"merchant-guard/config"
)

var ErrUnknownGuard = errors.New("unknown guard")

type RateLimit struct {
	MaxAttempts int
	Window      time.Duration
}

// Definition is the runtime form of one configured guard.
type Definition struct {
	Name                string
	Class               string
	Driver              string
	Lifetime            time.Duration
	MaxTokens           int
	RequiresTwoFactor   bool
	RequiresIPWhitelist bool
	IPWhitelist         []string
	RateLimit           RateLimit
	FailOpen            bool
	RoutePrefix         string
}

func (d Definition) TokenBearing() bool {
	return d.Driver == config.DriverToken
}

// Strict guards never fail open when a policy lookup is unavailable.
func (d Definition) Strict() bool {
	return d.RequiresTwoFactor || d.RequiresIPWhitelist || d.Class == config.ClassAdmin || d.Class == config.ClassSuperadmin
}

// Registry is built once at startup and never mutated.
type Registry struct {
	defs  map[string]Definition
	names []string
}

func NewRegistry(guards map[string]config.GuardConfig) (*Registry, error) {
	if err := config.ValidateGuards(guards); err != nil {
		return nil, fmt.Errorf("guard registry: %w", err)
	}
	r := &Registry{defs: make(map[string]Definition, len(guards))}
	for name, g := range guards {
		r.defs[name] = Definition{
			Name:                name,
			Class:               g.AccountClass,
			Driver:              g.Driver,
			Lifetime:            g.Lifetime,
			MaxTokens:           g.MaxTokens,
			RequiresTwoFactor:   g.RequiresTwoFactor,
			RequiresIPWhitelist: g.RequiresIPWhitelist,
			IPWhitelist:         append([]string(nil), g.IPWhitelist...),
			RateLimit:           RateLimit{MaxAttempts: g.RateLimit.MaxAttempts, Window: g.RateLimit.Window},
			FailOpen:            g.FailOpen,
			RoutePrefix:         g.RoutePrefix,
		}
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns a copy of the definition so callers cannot alter the registry.
func (r *Registry) Lookup(name string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	d, ok := r.defs[name]
	if ok {
		d.IPWhitelist = append([]string(nil), d.IPWhitelist...)
	}
	return d, ok
}

// Get is Lookup with an ErrUnknownGuard error for callers that propagate it.
func (r *Registry) Get(name string) (Definition, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownGuard, name)
	}
	return d, nil
}

// Names returns guard names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.names...)
}

func (r *Registry) All() []Definition {
	out := make([]Definition, 0, len(r.Names()))
	for _, name := range r.Names() {
		d, _ := r.Lookup(name)
		out = append(out, d)
	}
	return out
}

// TokenGuards returns token-bearing guards that expose a route prefix.
func (r *Registry) TokenGuards() []Definition {
	var out []Definition
	for _, d := range r.All() {
		if d.TokenBearing() && d.RoutePrefix != "" {
			out = append(out, d)
		}
	}
	return out
}
