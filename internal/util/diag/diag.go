// Package diag provides a lightweight diagnostics registry. Components
// register a named health check; the aggregate is consulted by the
// health endpoint.
package diag

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Check is a health probe a component can register.
type Check func(ctx context.Context) error

// Diagnostics is a registry of named health checks.
type Diagnostics struct {
	mu     sync.Mutex
	checks map[string]Check
}

// New constructs an empty Diagnostics registry. It returns a cleanup
// function for symmetry with the rest of the Provide* chain, even though
// there is currently nothing to release.
func New(_ context.Context) (*Diagnostics, func()) {
	d := &Diagnostics{checks: make(map[string]Check)}
	return d, func() {}
}

// Register adds a named check. It is an error to register the same name
// twice.
func (d *Diagnostics) Register(name string, check Check) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.checks[name]; exists {
		return errors.Errorf("diagnostic %q already registered", name)
	}
	d.checks[name] = check
	return nil
}

// RunAll executes every registered check and returns the first error
// encountered, along with the name of the check that failed.
func (d *Diagnostics) RunAll(ctx context.Context) (failedName string, err error) {
	d.mu.Lock()
	checks := make(map[string]Check, len(d.checks))
	for name, check := range d.checks {
		checks[name] = check
	}
	d.mu.Unlock()

	for name, check := range checks {
		if err := check(ctx); err != nil {
			return name, err
		}
	}
	return "", nil
}
