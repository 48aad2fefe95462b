package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes the engine distinguishes between.
// Callers match with errors.Is; non-2xx/non-429 upstream statuses carry the
// code via HTTPError and match with errors.As.
var (
	// ErrInvalidRequest indicates a malformed query or trade request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidResponse indicates an unexpected upstream payload shape,
	// including JSON decode failures.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrRateLimited indicates the upstream answered with a 429-equivalent.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNotFound indicates the asset or pool is confirmed absent upstream.
	ErrNotFound = errors.New("not found")

	// ErrNetworkUnavailable indicates no connectivity or a request timeout.
	ErrNetworkUnavailable = errors.New("network unavailable")
)

// HTTPError wraps a non-2xx, non-429 upstream status code.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

// NewHTTPError builds an HTTPError for the given status code.
func NewHTTPError(code int) error {
	return &HTTPError{Code: code}
}
