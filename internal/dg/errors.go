package dg

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dbashand/stripe-sync-engine/internal/ekind"
)

// classify maps a raw pgx/driver error to a typed ekind category so it
// never leaks upward unwrapped: NotFound, Conflict (unexpected unique
// violation), Transient, or Permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isNoRows(err):
		return ekind.New(ekind.NotFound, err)
	case isUniqueViolation(err):
		return ekind.New(ekind.Conflict, err)
	case isConnIssue(err):
		return ekind.New(ekind.Transient, err)
	default:
		return ekind.New(ekind.Permanent, err)
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isConnIssue(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "08000", "08003", "08006", "57014":
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded")
}
