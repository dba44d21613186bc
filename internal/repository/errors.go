package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// ErrDuplicate is returned when an insert or update violates a unique
// constraint. Services map it to a conflict (or, for invoice
// generation, treat it as "already exists" and move on).
var ErrDuplicate = errors.New("duplicate key")

const (
	uniqueViolationCode = "23505"
	queryCanceledCode   = "57014"

	// Class 08 covers connection exceptions.
	connectionClassPrefix = "08"
)

func translateUnique(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
		return ErrDuplicate
	}
	return nil
}

// IsUnavailable reports whether err is a transient store failure: a
// deadline hit, a dropped connection, or a server-side cancellation.
// Services surface these as retryable instead of internal errors.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return strings.HasPrefix(code, connectionClassPrefix) || code == queryCanceledCode
	}
	return false
}
