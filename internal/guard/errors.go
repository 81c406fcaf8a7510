package guard

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spigell/ai-guard/internal/ratelimit"
)

// ProviderError is returned when every attempt of a call failed. The failed
// call has been traced under TraceID unless persisting the trace failed.
type ProviderError struct {
	Attempts int
	TraceID  string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ai provider error after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Outcome classifies the result of Call.
type Outcome int

const (
	OutcomeAdmitted Outcome = iota
	OutcomeRateLimited
	OutcomeProviderError
	OutcomeInternal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeProviderError:
		return "provider_error"
	default:
		return "internal"
	}
}

// HTTPStatus maps the outcome to the status code served by the HTTP surface.
func (o Outcome) HTTPStatus() int {
	switch o {
	case OutcomeAdmitted:
		return http.StatusOK
	case OutcomeRateLimited:
		return http.StatusTooManyRequests
	case OutcomeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// OutcomeOf classifies an error returned by Call. A nil error is admitted.
func OutcomeOf(err error) Outcome {
	var providerErr *ProviderError
	switch {
	case err == nil:
		return OutcomeAdmitted
	case errors.Is(err, ratelimit.ErrRateLimited):
		return OutcomeRateLimited
	case errors.As(err, &providerErr):
		return OutcomeProviderError
	default:
		return OutcomeInternal
	}
}
