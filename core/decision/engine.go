package decision

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"merchant-guard/core/activity"
	"merchant-guard/core/auth"
	"merchant-guard/core/guard"
	"merchant-guard/core/ratelimit"
	"merchant-guard/core/telemetry"
	"merchant-guard/core/utils"
)

// TokenQuota is the slice of the token manager the engine consults.
type TokenQuota interface {
	CountLive(ctx context.Context, principalID, guard string) (int, error)
	CanIssue(ctx context.Context, principalID, guard string) (bool, error)
	Release(principalID, guard string)
}

type IPChecker interface {
	IsWhitelisted(guard, ip string) bool
}

// Observer receives every finished decision.
type Observer interface {
	ObserveDecision(d Decision, elapsed time.Duration)
}

type Deps struct {
	Resolver  *guard.Resolver
	Limiter   ratelimit.Limiter
	Quota     TokenQuota
	Whitelist IPChecker
	Recorder  activity.Recorder
}

type Options struct {
	LookupTimeout time.Duration
	RecordTimeout time.Duration
	Observer      Observer
	Logger        *utils.Logger
}

type Engine struct {
	resolver      *guard.Resolver
	limiter       ratelimit.Limiter
	quota         TokenQuota
	whitelist     IPChecker
	recorder      activity.Recorder
	observer      Observer
	logger        *utils.Logger
	lookupTimeout time.Duration
	recordTimeout time.Duration
	now           func() time.Time
}

func NewEngine(deps Deps, opts Options) (*Engine, error) {
	if deps.Resolver == nil {
		return nil, errors.New("decision: resolver is required")
	}
	lookup := opts.LookupTimeout
	if lookup <= 0 {
		lookup = 250 * time.Millisecond
	}
	record := opts.RecordTimeout
	if record <= 0 {
		record = 2 * time.Second
	}
	return &Engine{
		resolver:      deps.Resolver,
		limiter:       deps.Limiter,
		quota:         deps.Quota,
		whitelist:     deps.Whitelist,
		recorder:      deps.Recorder,
		observer:      opts.Observer,
		logger:        opts.Logger,
		lookupTimeout: lookup,
		recordTimeout: record,
		now:           time.Now,
	}, nil
}

// Evaluate runs the ordered checks for principal against guardName. An empty
// guardName targets the principal's primary guard. The only error returned is
// ctx.Err() when the request is cancelled before any counter is touched; every
// other outcome, including backend faults, is a Decision.
func (e *Engine) Evaluate(ctx context.Context, principal *auth.Principal, guardName string, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	start := e.now()
	ev := e.newEvaluation(principal, guardName, req, start)

	ctx, span := telemetry.StartSpan(ctx, "access.Evaluate",
		attribute.String(telemetry.AttrGuard, ev.guard.Name),
		attribute.String(telemetry.AttrIntent, ev.req.Intent),
	)
	if principal != nil {
		span.SetAttributes(attribute.String(telemetry.AttrPrincipalID, principal.ID))
	}
	defer span.End()

	for _, c := range e.sequentialChecks() {
		if res := c.run(ctx, ev); res.Outcome != Pass {
			return e.finish(ctx, ev, deny(ev, c.name, res), start), nil
		}
	}

	if err := ctx.Err(); err != nil {
		telemetry.RecordError(span, err)
		return Decision{}, err
	}

	// Counters may be consumed from here on, so the evaluation runs to
	// completion even if the caller goes away.
	lookupCtx := context.WithoutCancel(ctx)
	checks := e.concurrentChecks()
	results := make([]Result, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = c.run(lookupCtx, ev)
			return nil
		})
	}
	_ = g.Wait()

	reserved := false
	for _, res := range results {
		if res.reserved {
			reserved = true
		}
	}

	d := Decision{Admit: true, Guard: ev.guard.Name, Status: Reason("").Status(), Payload: Payload{Guard: ev.guard.Name}}
	for i, res := range results {
		if res.Outcome == Pass {
			continue
		}
		if res.Outcome == Fault {
			telemetry.RecordError(span, res.Err)
			if e.failsOpen(ev.guard) {
				e.logger.Warnf("ACCESS %s unavailable on guard=%s, failing open: %v", checks[i].name, ev.guard.Name, res.Err)
				continue
			}
			e.logger.Errorf("ACCESS %s unavailable on guard=%s: %v", checks[i].name, ev.guard.Name, res.Err)
		}
		d = deny(ev, checks[i].name, res)
		break
	}

	if reserved {
		if d.Admit {
			d.Reserved = true
		} else {
			e.quota.Release(ev.principal.ID, ev.guard.Name)
		}
	}
	return e.finish(ctx, ev, d, start), nil
}

func (e *Engine) newEvaluation(principal *auth.Principal, guardName string, req Request, now time.Time) *evaluation {
	name := strings.ToLower(strings.TrimSpace(guardName))
	if name == "" {
		if principal != nil {
			name = e.resolver.PrimaryGuard(principal)
		} else {
			name = "web"
		}
	}
	def, known := e.resolver.Registry().Lookup(name)
	if !known {
		def = guard.Definition{Name: name}
	}
	req.IP = strings.TrimSpace(req.IP)
	if req.Intent == "" {
		req.Intent = IntentAccess
	}
	return &evaluation{principal: principal, guard: def, known: known, req: req, now: now}
}

func (e *Engine) failsOpen(def guard.Definition) bool {
	return def.FailOpen && !def.Strict()
}

func deny(ev *evaluation, checkName string, res Result) Decision {
	payload := res.Payload
	if payload.Guard == "" {
		payload.Guard = ev.guard.Name
	}
	return Decision{
		Admit:   false,
		Guard:   ev.guard.Name,
		Reason:  res.Reason,
		Status:  res.Reason.Status(),
		Payload: payload,
		Check:   checkName,
	}
}

// finish records and observes d. Recording outlives the request context and
// its failure never changes the decision.
func (e *Engine) finish(ctx context.Context, ev *evaluation, d Decision, start time.Time) Decision {
	span := trace.SpanFromContext(ctx)
	outcome := activity.OutcomeAdmit
	if !d.Admit {
		outcome = activity.OutcomeDeny
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrOutcome, outcome),
		attribute.String(telemetry.AttrReason, string(d.Reason)),
	)
	if e.recorder != nil {
		var principalID *string
		if ev.principal != nil && ev.principal.ID != "" {
			id := ev.principal.ID
			principalID = &id
		}
		attempt := activity.Attempt{
			PrincipalID: principalID,
			Guard:       d.Guard,
			IP:          ev.req.IP,
			RequestID:   ev.req.RequestID,
			Outcome:     outcome,
			ReasonCode:  string(d.Reason),
			Status:      d.Status,
			CreatedAt:   ev.now.UTC(),
		}
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.recordTimeout)
		if err := e.recorder.Record(recCtx, attempt); err != nil {
			e.logger.Errorf("ACCESS record attempt guard=%s: %v", d.Guard, err)
		}
		cancel()
	}
	if e.observer != nil {
		e.observer.ObserveDecision(d, e.now().Sub(start))
	}
	return d
}
