package persistence

import (
	"database/sql"
	"errors"
)

// Common persistence errors
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
