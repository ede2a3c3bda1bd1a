// Package ekind implements the typed error categories the sync engine
// surfaces. Each component returns errors wrapped with a Category so
// that boundary adapters (HTTP, CLI) can map them to
// transport-appropriate responses without inspecting error strings.
package ekind

import (
	"fmt"

	"github.com/pkg/errors"
)

// Category is one of the error kinds surfaced by the core.
type Category int

const (
	// Unknown is the zero value; treated as Permanent by adapters.
	Unknown Category = iota
	// Configuration covers missing/invalid env or CLI inputs.
	Configuration
	// Signature covers bad HMAC or stale event timestamps.
	Signature
	// NotFound covers missing accounts, tenants, or webhooks.
	NotFound
	// Conflict covers unexpected unique-constraint violations.
	Conflict
	// Transient covers DB contention or provider 429/5xx.
	Transient
	// Permanent covers malformed rows or contract violations.
	Permanent
	// Fatal covers DDL failure or an unreachable database.
	Fatal
)

func (c Category) String() string {
	switch c {
	case Configuration:
		return "configuration"
	case Signature:
		return "signature"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Category.
type Error struct {
	Category Category
	cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New wraps cause with the given category, adding a stack trace if cause
// does not already carry one.
func New(category Category, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Category: category, cause: errors.WithStack(cause)}
}

// Newf builds a new categorized error from a format string.
func Newf(category Category, format string, args ...any) error {
	return New(category, errors.Errorf(format, args...))
}

// Of returns the Category of err, or Unknown if err was not produced by
// this package.
func Of(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return Unknown
}

// Is reports whether err carries the given category.
func Is(err error, category Category) bool {
	return Of(err) == category
}
