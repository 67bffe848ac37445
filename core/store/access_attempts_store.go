package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

type AccessAttemptsStore interface {
	Log(ctx context.Context, a *AccessAttempt) error
	List(ctx context.Context, f AttemptFilter) ([]AccessAttempt, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type accessAttemptsStore struct {
	db *sql.DB
}

func NewAccessAttemptsStore(db *sql.DB) AccessAttemptsStore {
	return &accessAttemptsStore{db: db}
}

func (s *accessAttemptsStore) Log(ctx context.Context, a *AccessAttempt) error {
	if a.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		a.ID = id
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	var accountID any
	if a.AccountID != nil {
		accountID = *a.AccountID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_attempts(id, account_id, guard, ip, request_id, outcome, reason_code, status, created_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		a.ID, accountID, a.Guard, a.IP, a.RequestID, a.Outcome, a.ReasonCode, a.Status, toMillis(a.CreatedAt))
	return err
}

func (s *accessAttemptsStore) List(ctx context.Context, f AttemptFilter) ([]AccessAttempt, error) {
	where := []string{}
	args := []any{}
	if f.AccountID != "" {
		where = append(where, "account_id=?")
		args = append(args, f.AccountID)
	}
	if f.Guard != "" {
		where = append(where, "guard=?")
		args = append(args, f.Guard)
	}
	if f.Outcome != "" {
		where = append(where, "outcome=?")
		args = append(args, f.Outcome)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at>=?")
		args = append(args, toMillis(f.Since))
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, account_id, guard, ip, request_id, outcome, reason_code, status, created_at FROM access_attempts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AccessAttempt
	for rows.Next() {
		var a AccessAttempt
		var accountID sql.NullString
		var created int64
		if err := rows.Scan(&a.ID, &accountID, &a.Guard, &a.IP, &a.RequestID, &a.Outcome, &a.ReasonCode, &a.Status, &created); err != nil {
			return nil, err
		}
		if accountID.Valid {
			v := accountID.String
			a.AccountID = &v
		}
		a.CreatedAt = fromMillis(created)
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *accessAttemptsStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_attempts WHERE created_at<?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
