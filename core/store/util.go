package store

import (
	"database/sql"
	"time"

	"github.com/gofrs/uuid/v5"
)

// boolToInt converts a boolean into 0/1 for integer boolean columns.
func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Timestamps are stored as unix milliseconds in both dialects.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func nullableMillis(ts *time.Time) any {
	if ts == nil {
		return nil
	}
	return toMillis(*ts)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
