// internal/common/database/errors.go
package database

import (
	"context"
	"database/sql"
	"errors"

	apperrors "trades-marketplace/internal/common/errors"

	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// QueryError maps a driver error onto the application error codes. Errors that already
// carry a code pass through unchanged.
func QueryError(queryType string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsStandardError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewQueryTimeoutError(queryType)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, context.Canceled):
		return apperrors.NewDatabaseConnectionFailedError(err)
	default:
		return apperrors.NewQueryExecutionFailedError(queryType, err)
	}
}

// NotFound turns sql.ErrNoRows into RESOURCE_NOT_FOUND and anything else into QueryError.
func NotFound(resource, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewResourceNotFoundError(resource, resource+" "+id+" not found")
	}
	return QueryError("get-"+resource, err)
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...interface{}) error
}
