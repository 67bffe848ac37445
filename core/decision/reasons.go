package decision

import (
	"net/http"
	"time"
)

// Reason is the closed set of denial causes surfaced to callers.
type Reason string

const (
	ReasonUnauthenticated   Reason = "UNAUTHENTICATED"
	ReasonGuardAccessDenied Reason = "GUARD_ACCESS_DENIED"
	ReasonAccountInactive   Reason = "ACCOUNT_INACTIVE"
	ReasonAccountLocked     Reason = "ACCOUNT_LOCKED"
	ReasonRateLimited       Reason = "RATE_LIMIT_EXCEEDED"
	ReasonIPNotWhitelisted  Reason = "IP_NOT_WHITELISTED"
	ReasonTwoFactorRequired Reason = "2FA_REQUIRED"
	ReasonMaxTokens         Reason = "MAX_TOKENS_EXCEEDED"

	// ReasonPolicyUnavailable is a fault, not a policy outcome: a backing
	// lookup failed or timed out and the guard does not fail open.
	ReasonPolicyUnavailable Reason = "POLICY_UNAVAILABLE"
)

func (r Reason) Status() int {
	switch r {
	case "":
		return http.StatusOK
	case ReasonUnauthenticated:
		return http.StatusUnauthorized
	case ReasonAccountLocked:
		return http.StatusLocked
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonPolicyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

func (r Reason) IsFault() bool {
	return r == ReasonPolicyUnavailable
}

// Payload only ever carries data about the evaluated principal and request.
type Payload struct {
	Guard          string     `json:"guard,omitempty"`
	EligibleGuards []string   `json:"eligible_guards,omitempty"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	IP             string     `json:"ip,omitempty"`
	RetryAfter     int        `json:"retry_after,omitempty"`
	MaxTokens      int        `json:"max_tokens,omitempty"`
}

type Decision struct {
	Admit   bool
	Guard   string
	Reason  Reason
	Status  int
	Payload Payload
	// Check names the check that produced a denial.
	Check string
	// Reserved is set when an issue_token admit holds a quota slot that the
	// caller must consume with Issue or give back with Release.
	Reserved bool
}

const (
	IntentAccess     = "access"
	IntentIssueToken = "issue_token"
)

type Request struct {
	IP        string
	RequestID string
	Intent    string
}
