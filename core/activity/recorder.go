package activity

import (
	"context"
	"errors"
	"time"

	"merchant-guard/core/store"
	"merchant-guard/core/utils"
)

const (
	OutcomeAdmit = "admit"
	OutcomeDeny  = "deny"
)

// Attempt is one evaluated request. Never mutated after it is recorded.
type Attempt struct {
	ID          string
	PrincipalID *string
	Guard       string
	IP          string
	RequestID   string
	Outcome     string
	ReasonCode  string
	Status      int
	CreatedAt   time.Time
}

type Recorder interface {
	Record(ctx context.Context, a Attempt) error
}

// StoreRecorder appends attempts to the access_attempts table.
type StoreRecorder struct {
	store store.AccessAttemptsStore
}

func NewStoreRecorder(s store.AccessAttemptsStore) *StoreRecorder {
	return &StoreRecorder{store: s}
}

func (r *StoreRecorder) Record(ctx context.Context, a Attempt) error {
	row := store.AccessAttempt{
		ID:         a.ID,
		AccountID:  a.PrincipalID,
		Guard:      a.Guard,
		IP:         a.IP,
		RequestID:  a.RequestID,
		Outcome:    a.Outcome,
		ReasonCode: a.ReasonCode,
		Status:     a.Status,
		CreatedAt:  a.CreatedAt,
	}
	return r.store.Log(ctx, &row)
}

// LogRecorder writes attempts to the application log.
type LogRecorder struct {
	logger *utils.Logger
}

func NewLogRecorder(logger *utils.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(_ context.Context, a Attempt) error {
	principal := "-"
	if a.PrincipalID != nil {
		principal = *a.PrincipalID
	}
	if a.Outcome == OutcomeDeny {
		r.logger.Printf("ACCESS deny guard=%s reason=%s status=%d principal=%s ip=%s req=%s", a.Guard, a.ReasonCode, a.Status, principal, a.IP, a.RequestID)
		return nil
	}
	r.logger.Debugf("ACCESS admit guard=%s principal=%s ip=%s req=%s", a.Guard, principal, a.IP, a.RequestID)
	return nil
}

// Multi fans an attempt out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, a Attempt) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
