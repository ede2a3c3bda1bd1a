package stripeapi

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v81"

	"github.com/dbashand/stripe-sync-engine/internal/ekind"
)

func TestClassifyRateLimitIsTransient(t *testing.T) {
	err := classify(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests})
	assert.True(t, ekind.Is(err, ekind.Transient))
}

func TestClassifyServerFaultIsTransient(t *testing.T) {
	err := classify(&stripe.Error{HTTPStatusCode: http.StatusBadGateway})
	assert.True(t, ekind.Is(err, ekind.Transient))
}

func TestClassifyResourceMissingIsNotFound(t *testing.T) {
	err := classify(&stripe.Error{
		Code:           stripe.ErrorCodeResourceMissing,
		HTTPStatusCode: http.StatusNotFound,
	})
	assert.True(t, ekind.Is(err, ekind.NotFound))
}

func TestClassifyAPIRejectionIsPermanent(t *testing.T) {
	err := classify(&stripe.Error{
		Code:           stripe.ErrorCodeParameterInvalidEmpty,
		HTTPStatusCode: http.StatusBadRequest,
	})
	assert.True(t, ekind.Is(err, ekind.Permanent))
}

func TestClassifyTransportErrorIsTransient(t *testing.T) {
	err := classify(errors.New("read tcp: connection reset by peer"))
	assert.True(t, ekind.Is(err, ekind.Transient))
}

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, classify(nil))
}
