package stripeapi

import (
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v81"

	"github.com/dbashand/stripe-sync-engine/internal/ekind"
)

// classify maps a provider SDK error onto a typed category so callers
// can decide whether to retry without inspecting SDK types: rate limits
// and server-side faults are transient, resource_missing is not-found,
// any other API rejection is permanent. Transport-level failures
// (timeouts, resets, DNS) arrive as plain errors and are treated as
// transient, since retrying is the only useful response to them.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return ekind.New(ekind.NotFound, err)
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return ekind.New(ekind.Transient, err)
		default:
			return ekind.New(ekind.Permanent, err)
		}
	}
	return ekind.New(ekind.Transient, err)
}
