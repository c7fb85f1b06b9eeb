package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("duplicate")

	// ErrPoolTimeout is returned when no pooled connection became available
	// within the acquire timeout.
	ErrPoolTimeout = errors.New("timed out acquiring a database connection")

	// ErrResponsePending is returned for an idempotency record that has not
	// been filled in yet.
	ErrResponsePending = errors.New("idempotency record has no saved response")
)

// Postgres SQLSTATE codes.
const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
	pgQueryCanceled    = "57014"
)

// IsLockTimeout reports whether err means the statement gave up waiting on a
// row lock: Postgres lock_timeout / statement cancel, SQLite busy, or the
// caller's deadline.
func IsLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable || pgErr.Code == pgQueryCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "database is locked") || strings.Contains(low, "sqlite_busy")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
