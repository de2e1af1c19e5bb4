package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsDuplicateKeyErr reports whether err is a unique constraint violation on
// any supported dialect.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	msg := err.Error()
	// postgres through a wrapping driver
	if strings.Contains(msg, "duplicate key value violates unique constraint") {
		return true
	}
	// sqlite (extended code 2067)
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsConstraintOn reports whether a duplicate key error names the given
// constraint or column list.
func IsConstraintOn(err error, names ...string) bool {
	if !IsDuplicateKeyErr(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		for _, name := range names {
			if pgErr.ConstraintName == name {
				return true
			}
		}
		return false
	}
	msg := err.Error()
	for _, name := range names {
		if strings.Contains(msg, name) {
			return true
		}
	}
	return false
}
