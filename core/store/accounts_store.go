package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"
)

type AccountsStore interface {
	FindByUsername(ctx context.Context, username string) (*Account, []string, error)
	Get(ctx context.Context, id string) (*Account, []string, error)
	Create(ctx context.Context, acc *Account, roles []string) (string, error)
	Count(ctx context.Context) (int, error)
	UpdateLoginState(ctx context.Context, acc *Account) error
	SetTOTPSecret(ctx context.Context, id, secret string) error
	ConfirmTOTP(ctx context.Context, id string, at time.Time) error
}

type accountsStore struct {
	db *sql.DB
}

func NewAccountsStore(db *sql.DB) AccountsStore {
	return &accountsStore{db: db}
}

const accountColumns = `id, username, password_hash, salt, status, is_active, is_vendor, locked_until, lock_stage, failed_attempts, last_failed_at, last_login_at, totp_secret, totp_confirmed_at, created_at, updated_at`

func (s *accountsStore) FindByUsername(ctx context.Context, username string) (*Account, []string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username=?`, strings.ToLower(strings.TrimSpace(username)))
	return s.scanAccount(ctx, row)
}

func (s *accountsStore) Get(ctx context.Context, id string) (*Account, []string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=?`, id)
	return s.scanAccount(ctx, row)
}

func (s *accountsStore) scanAccount(ctx context.Context, row *sql.Row) (*Account, []string, error) {
	var a Account
	var lockedUntil, lastFailed, lastLogin, totpConfirmed sql.NullInt64
	var created, updated int64
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Salt, &a.Status, &a.IsActive, &a.IsVendor,
		&lockedUntil, &a.LockStage, &a.FailedAttempts, &lastFailed, &lastLogin, &a.TOTPSecret, &totpConfirmed, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	a.LockedUntil = fromNullMillis(lockedUntil)
	a.LastFailedAt = fromNullMillis(lastFailed)
	a.LastLoginAt = fromNullMillis(lastLogin)
	a.TOTPConfirmedAt = fromNullMillis(totpConfirmed)
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	roles, err := s.rolesFor(ctx, a.ID)
	if err != nil {
		return nil, nil, err
	}
	return &a, roles, nil
}

func (s *accountsStore) rolesFor(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM account_roles WHERE account_id=?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles, rows.Err()
}

func (s *accountsStore) Create(ctx context.Context, acc *Account, roles []string) (string, error) {
	if acc == nil {
		return "", errors.New("nil account")
	}
	if acc.ID == "" {
		id, err := NewID()
		if err != nil {
			return "", err
		}
		acc.ID = id
	}
	if acc.Status == "" {
		acc.Status = AccountStatusActive
	}
	acc.Username = strings.ToLower(strings.TrimSpace(acc.Username))
	now := time.Now().UTC()
	acc.CreatedAt, acc.UpdatedAt = now, now
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts(`+accountColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		acc.ID, acc.Username, acc.PasswordHash, acc.Salt, acc.Status, boolToInt(acc.IsActive), boolToInt(acc.IsVendor),
		nullableMillis(acc.LockedUntil), acc.LockStage, acc.FailedAttempts, nullableMillis(acc.LastFailedAt), nullableMillis(acc.LastLoginAt),
		acc.TOTPSecret, nullableMillis(acc.TOTPConfirmedAt), toMillis(now), toMillis(now))
	if err != nil {
		_ = tx.Rollback()
		return "", err
	}
	seen := map[string]struct{}{}
	for _, r := range roles {
		role := strings.ToLower(strings.TrimSpace(r))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		if _, err := tx.ExecContext(ctx, `INSERT INTO account_roles(account_id, role) VALUES(?,?)`, acc.ID, role); err != nil {
			_ = tx.Rollback()
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return acc.ID, nil
}

func (s *accountsStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM accounts`).Scan(&n)
	return n, err
}

// UpdateLoginState persists the lockout bookkeeping owned by the login flow.
func (s *accountsStore) UpdateLoginState(ctx context.Context, acc *Account) error {
	if acc == nil {
		return errors.New("nil account")
	}
	acc.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status=?, locked_until=?, lock_stage=?, failed_attempts=?, last_failed_at=?, last_login_at=?, updated_at=?
		WHERE id=?`,
		acc.Status, nullableMillis(acc.LockedUntil), acc.LockStage, acc.FailedAttempts, nullableMillis(acc.LastFailedAt), nullableMillis(acc.LastLoginAt), toMillis(acc.UpdatedAt), acc.ID)
	return err
}

// SetTOTPSecret stores a new pending secret and clears any previous confirmation.
func (s *accountsStore) SetTOTPSecret(ctx context.Context, id, secret string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET totp_secret=?, totp_confirmed_at=NULL, updated_at=? WHERE id=?`, secret, toMillis(time.Now()), id)
	return err
}

func (s *accountsStore) ConfirmTOTP(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET totp_confirmed_at=?, updated_at=? WHERE id=? AND totp_secret<>''`, toMillis(at), toMillis(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
