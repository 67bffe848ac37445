package auth

import (
	"time"

	"merchant-guard/core/store"
)

// PermanentLockStage suspends the account instead of setting locked_until.
const PermanentLockStage = 6

func LockDuration(stage int) time.Duration {
	switch stage {
	case 1:
		return time.Hour
	case 2:
		return 3 * time.Hour
	case 3:
		return 6 * time.Hour
	case 4:
		return 12 * time.Hour
	case 5:
		return 24 * time.Hour
	default:
		return 0
	}
}

// RegisterLoginFailure updates the lockout bookkeeping after a bad password.
// Below stage 1 the account gets maxFailures tries; once it has been locked,
// every further failure escalates the stage. Returns true when a lock was applied.
func RegisterLoginFailure(acc *store.Account, now time.Time, maxFailures int) bool {
	if acc == nil {
		return false
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	acc.LastFailedAt = &now
	if acc.LockStage == 0 {
		acc.FailedAttempts++
		if acc.FailedAttempts < maxFailures {
			return false
		}
		applyLockout(acc, 1, now)
		return true
	}
	next := acc.LockStage + 1
	if next > PermanentLockStage {
		next = PermanentLockStage
	}
	applyLockout(acc, next, now)
	return true
}

// RegisterLoginSuccess clears the lockout state after a successful login.
func RegisterLoginSuccess(acc *store.Account, now time.Time) {
	if acc == nil {
		return
	}
	acc.LastLoginAt = &now
	acc.FailedAttempts = 0
	acc.LockStage = 0
	acc.LockedUntil = nil
	acc.LastFailedAt = nil
}

// ExpireLock drops a lock whose window has passed; the stage is kept so the next failure escalates.
func ExpireLock(acc *store.Account, now time.Time) {
	if acc != nil && acc.LockedUntil != nil && !acc.LockedUntil.After(now) {
		acc.LockedUntil = nil
		acc.FailedAttempts = 0
	}
}

func applyLockout(acc *store.Account, stage int, now time.Time) {
	acc.LockStage = stage
	acc.FailedAttempts = 0
	if stage >= PermanentLockStage {
		acc.LockedUntil = nil
		acc.Status = store.AccountStatusSuspended
		return
	}
	until := now.Add(LockDuration(stage))
	acc.LockedUntil = &until
}
