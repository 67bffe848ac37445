package decision

import (
	"context"
	"fmt"
	"math"
	"time"

	"merchant-guard/core/auth"
	"merchant-guard/core/guard"
	"merchant-guard/core/ratelimit"
)

type Outcome int

const (
	Pass Outcome = iota
	Fail
	Fault
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	default:
		return "fault"
	}
}

type Result struct {
	Outcome Outcome
	Reason  Reason
	Payload Payload
	Err     error

	reserved bool
}

func passed() Result { return Result{Outcome: Pass} }

func failed(reason Reason, payload Payload) Result {
	return Result{Outcome: Fail, Reason: reason, Payload: payload}
}

func faulted(err error) Result {
	return Result{Outcome: Fault, Reason: ReasonPolicyUnavailable, Err: err}
}

// evaluation is the read-only input shared by every check of one Evaluate call.
type evaluation struct {
	principal *auth.Principal
	guard     guard.Definition
	known     bool
	req       Request
	now       time.Time
}

type check struct {
	name string
	run  func(ctx context.Context, ev *evaluation) Result
}

// sequentialChecks run in order and stop at the first non-pass.
func (e *Engine) sequentialChecks() []check {
	return []check{
		{"authenticated", e.checkAuthenticated},
		{"guard_eligibility", e.checkEligibility},
		{"active", e.checkActive},
		{"lock", e.checkLock},
	}
}

// concurrentChecks run together; results are read back in slice order.
func (e *Engine) concurrentChecks() []check {
	return []check{
		{"rate_limit", e.checkRateLimit},
		{"ip_whitelist", e.checkIPWhitelist},
		{"two_factor", e.checkTwoFactor},
		{"token_quota", e.checkTokenQuota},
	}
}

func (e *Engine) checkAuthenticated(_ context.Context, ev *evaluation) Result {
	if ev.principal == nil || ev.principal.ID == "" {
		return failed(ReasonUnauthenticated, Payload{Guard: ev.guard.Name})
	}
	return passed()
}

func (e *Engine) checkEligibility(_ context.Context, ev *evaluation) Result {
	if ev.known && e.resolver.IsEligible(ev.principal, ev.guard.Name) {
		return passed()
	}
	return failed(ReasonGuardAccessDenied, Payload{
		Guard:          ev.guard.Name,
		EligibleGuards: e.resolver.EligibleGuards(ev.principal),
	})
}

func (e *Engine) checkActive(_ context.Context, ev *evaluation) Result {
	if !ev.principal.IsEligible() {
		return failed(ReasonAccountInactive, Payload{Guard: ev.guard.Name})
	}
	return passed()
}

func (e *Engine) checkLock(_ context.Context, ev *evaluation) Result {
	if ev.principal.IsLocked(ev.now) {
		until := ev.principal.LockedUntil.UTC()
		return failed(ReasonAccountLocked, Payload{Guard: ev.guard.Name, LockedUntil: &until})
	}
	return passed()
}

func (e *Engine) checkRateLimit(ctx context.Context, ev *evaluation) Result {
	rule := ev.guard.RateLimit
	if rule.MaxAttempts <= 0 || e.limiter == nil {
		return passed()
	}
	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()
	key := ratelimit.Key(ev.guard.Name, ev.principal.ID, ev.req.IP)
	res, err := e.limiter.Allow(ctx, key, rule.MaxAttempts, rule.Window)
	if err != nil {
		return faulted(fmt.Errorf("rate limiter: %w", err))
	}
	if !res.Allowed {
		return failed(ReasonRateLimited, Payload{Guard: ev.guard.Name, RetryAfter: retryAfterSeconds(res.RetryAfter)})
	}
	return passed()
}

func (e *Engine) checkIPWhitelist(_ context.Context, ev *evaluation) Result {
	if !ev.guard.RequiresIPWhitelist {
		return passed()
	}
	if e.whitelist == nil || !e.whitelist.IsWhitelisted(ev.guard.Name, ev.req.IP) {
		return failed(ReasonIPNotWhitelisted, Payload{Guard: ev.guard.Name, IP: ev.req.IP})
	}
	return passed()
}

func (e *Engine) checkTwoFactor(_ context.Context, ev *evaluation) Result {
	if ev.guard.RequiresTwoFactor && !ev.principal.TwoFactorEnabled {
		return failed(ReasonTwoFactorRequired, Payload{Guard: ev.guard.Name})
	}
	return passed()
}

func (e *Engine) checkTokenQuota(ctx context.Context, ev *evaluation) Result {
	def := ev.guard
	if !def.TokenBearing() || def.MaxTokens <= 0 || e.quota == nil {
		return passed()
	}
	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()
	exceeded := failed(ReasonMaxTokens, Payload{Guard: def.Name, MaxTokens: def.MaxTokens})
	if ev.req.Intent == IntentIssueToken {
		ok, err := e.quota.CanIssue(ctx, ev.principal.ID, def.Name)
		if err != nil {
			return faulted(fmt.Errorf("token quota: %w", err))
		}
		if !ok {
			return exceeded
		}
		return Result{Outcome: Pass, reserved: true}
	}
	live, err := e.quota.CountLive(ctx, ev.principal.ID, def.Name)
	if err != nil {
		return faulted(fmt.Errorf("token quota: %w", err))
	}
	if live >= def.MaxTokens {
		return exceeded
	}
	return passed()
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
