package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

type TokensStore interface {
	Create(ctx context.Context, t *AccessToken) error
	Get(ctx context.Context, id string) (*AccessToken, error)
	CountLive(ctx context.Context, accountID, guard string, now time.Time) (int, error)
	ListLive(ctx context.Context, accountID, guard string, now time.Time) ([]AccessToken, error)
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeAll(ctx context.Context, accountID, guard string, at time.Time) (int64, error)
	Touch(ctx context.Context, id string, at time.Time) error
	PurgeStale(ctx context.Context, before time.Time) (int64, error)
}

type tokensStore struct {
	db *sql.DB
}

func NewTokensStore(db *sql.DB) TokensStore {
	return &tokensStore{db: db}
}

const tokenColumns = `id, account_id, guard, name, abilities, issued_at, expires_at, last_used_at, revoked_at`

func (s *tokensStore) Create(ctx context.Context, t *AccessToken) error {
	if t == nil || t.ID == "" {
		return errors.New("token id required")
	}
	abilities, err := json.Marshal(t.Abilities)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO access_tokens(`+tokenColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		t.ID, t.AccountID, t.Guard, t.Name, string(abilities), toMillis(t.IssuedAt), toMillis(t.ExpiresAt), nullableMillis(t.LastUsedAt), nullableMillis(t.RevokedAt))
	return err
}

func (s *tokensStore) Get(ctx context.Context, id string) (*AccessToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE id=?`, id)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *tokensStore) CountLive(ctx context.Context, accountID, guard string, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM access_tokens
		WHERE account_id=? AND guard=? AND revoked_at IS NULL AND expires_at>?`,
		accountID, guard, toMillis(now)).Scan(&n)
	return n, err
}

func (s *tokensStore) ListLive(ctx context.Context, accountID, guard string, now time.Time) ([]AccessToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM access_tokens
		WHERE account_id=? AND guard=? AND revoked_at IS NULL AND expires_at>?
		ORDER BY issued_at DESC`,
		accountID, guard, toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AccessToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	return res, rows.Err()
}

func (s *tokensStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE access_tokens SET revoked_at=? WHERE id=? AND revoked_at IS NULL`, toMillis(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *tokensStore) RevokeAll(ctx context.Context, accountID, guard string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE access_tokens SET revoked_at=? WHERE account_id=? AND guard=? AND revoked_at IS NULL`, toMillis(at), accountID, guard)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *tokensStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE access_tokens SET last_used_at=? WHERE id=?`, toMillis(at), id)
	return err
}

// PurgeStale deletes tokens that expired or were revoked before the cutoff.
func (s *tokensStore) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	cutoff := toMillis(before)
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE expires_at<? OR (revoked_at IS NOT NULL AND revoked_at<?)`, cutoff, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*AccessToken, error) {
	var t AccessToken
	var abilities string
	var issued, expires int64
	var lastUsed, revoked sql.NullInt64
	if err := row.Scan(&t.ID, &t.AccountID, &t.Guard, &t.Name, &abilities, &issued, &expires, &lastUsed, &revoked); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(abilities), &t.Abilities)
	t.IssuedAt = fromMillis(issued)
	t.ExpiresAt = fromMillis(expires)
	t.LastUsedAt = fromNullMillis(lastUsed)
	t.RevokedAt = fromNullMillis(revoked)
	return &t, nil
}
