package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories distinguish.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrAlreadyExists       = errors.New("record already exists")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrConnectionFailed    = errors.New("database connection failed")
	ErrInvalidArgument     = errors.New("invalid argument")
)

var sqlStateErrors = map[string]error{
	pgUniqueViolation:     ErrAlreadyExists,
	pgForeignKeyViolation: ErrForeignKeyViolation,
	pgCheckViolation:      ErrConstraintViolation,
	pgNotNullViolation:    ErrConstraintViolation,
}

// Connection exception (08) and operator intervention (57) classes.
var connectionClasses = map[string]bool{"08": true, "57": true}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsNotFoundError reports whether err means no row matched.
func IsNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound)
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return sqlState(err) == pgUniqueViolation
}

func isConnectionError(err error) bool {
	code := sqlState(err)
	return len(code) >= 2 && connectionClasses[code[:2]]
}

func isRetryableTxError(err error) bool {
	switch sqlState(err) {
	case pgSerializationFail, pgDeadlockDetected:
		return true
	}
	return false
}

// dbError maps a driver error onto the package sentinels, prefixed by op.
// Connection failures keep the driver error in the chain.
func dbError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsNotFoundError(err):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case isConnectionError(err):
		return fmt.Errorf("%s: %w: %w", op, ErrConnectionFailed, err)
	}
	if sentinel, ok := sqlStateErrors[sqlState(err)]; ok {
		return fmt.Errorf("%s: %w", op, sentinel)
	}
	return fmt.Errorf("%s: %w", op, err)
}
