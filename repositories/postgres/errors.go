package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/lib/pq"
)

// PostgreSQL error codes that signal a concurrent transaction won a race
const (
	codeSerializationFailure pq.ErrorCode = "40001"
	codeDeadlockDetected     pq.ErrorCode = "40P01"
	codeUniqueViolation      pq.ErrorCode = "23505"
)

// IsConflict reports whether err is a transient conflict with another transaction
func IsConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
		return true
	}
	return false
}

// wrapError annotates a driver error, mapping conflicts and missing rows to repository sentinels
func wrapError(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, repositories.ErrNotFound)
	case IsConflict(err):
		return fmt.Errorf("%s: %w (%v)", op, repositories.ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
