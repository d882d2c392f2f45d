package db

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Code returns the SQLSTATE carried by err, or "" when err is not a PostgreSQL error.
func Code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a unique or exclusion constraint failure.
func IsUniqueViolation(err error) bool {
	return Code(err) == pgerrcode.UniqueViolation
}

// IsSerializationFailure reports errors after which the transaction may be retried
// against fresh data.
func IsSerializationFailure(err error) bool {
	switch Code(err) {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return true
	}
	return false
}
