package store

import "time"

const (
	AccountStatusActive    = "active"
	AccountStatusInactive  = "inactive"
	AccountStatusSuspended = "suspended"
)

type Account struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	PasswordHash    string     `json:"-"`
	Salt            string     `json:"-"`
	Status          string     `json:"status"`
	IsActive        bool       `json:"is_active"`
	IsVendor        bool       `json:"is_vendor"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	LockStage       int        `json:"lock_stage"`
	FailedAttempts  int        `json:"failed_attempts"`
	LastFailedAt    *time.Time `json:"last_failed_at,omitempty"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	TOTPSecret      string     `json:"-"`
	TOTPConfirmedAt *time.Time `json:"totp_confirmed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type AccessToken struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	Guard      string     `json:"guard"`
	Name       string     `json:"name"`
	Abilities  []string   `json:"abilities"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Live reports whether the token is unrevoked and unexpired at now.
func (t *AccessToken) Live(now time.Time) bool {
	return t != nil && t.RevokedAt == nil && t.ExpiresAt.After(now)
}

type AccessAttempt struct {
	ID         string    `json:"id"`
	AccountID  *string   `json:"account_id,omitempty"`
	Guard      string    `json:"guard"`
	IP         string    `json:"ip"`
	RequestID  string    `json:"request_id"`
	Outcome    string    `json:"outcome"`
	ReasonCode string    `json:"reason_code,omitempty"`
	Status     int       `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type AttemptFilter struct {
	AccountID string
	Guard     string
	Outcome   string
	Since     time.Time
	Limit     int
}

// Can reports whether the token grants ability; "*" grants everything.
func (t *AccessToken) Can(ability string) bool {
	if t == nil {
		return false
	}
	for _, a := range t.Abilities {
		if a == "*" || a == ability {
			return true
		}
	}
	return false
}
