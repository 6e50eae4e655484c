package scraper

import "errors"

// Classified upstream errors. The import pipeline keys its retry and
// skip decisions off these, so every fetch failure must map to one.
var (
	// ErrNotFound means the page or record does not exist upstream. Not retryable.
	ErrNotFound = errors.New("upstream resource not found")

	// ErrThrottled means the upstream rejected the request with a rate-limit
	// response. Retryable after backoff.
	ErrThrottled = errors.New("upstream throttled the request")

	// ErrUnavailable covers 5xx responses, timeouts and network resets.
	// Retryable after backoff; exhaustion demotes to a page skip.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrMalformed means the upstream answered but the payload could not be
	// decoded. Not retryable.
	ErrMalformed = errors.New("upstream returned a malformed payload")
)

// Retryable reports whether err is a transient upstream condition worth
// retrying with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}
