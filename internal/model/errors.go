package model

import (
	"context"
	"errors"
	"fmt"
)

// Validation errors reject the request before any upstream call is made
var (
	ErrEmptyQuestion     = errors.New("question text is empty")
	ErrInvalidMaxResults = errors.New("maxResults must be between 1 and 50")
)

// GatewayError reports an upstream failure (PubMed or LLM) with the HTTP
// status observed, when one exists.
type GatewayError struct {
	Upstream string // "pubmed", "icite", "llm"
	Status   int    // HTTP status, 0 for network errors
	Message  string
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s gateway: HTTP %d: %s", e.Upstream, e.Status, e.Message)
	}
	return fmt.Sprintf("%s gateway: %s", e.Upstream, e.Message)
}

// RateLimitedError marks an upstream 429. The executor is the only
// component that reacts to it; everything else treats it as opaque.
// Err carries the underlying error when the rate limit is inferred
// rather than observed, e.g. a deadline firing during a cooldown.
type RateLimitedError struct {
	Upstream string
	Err      error
}

func (e *RateLimitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s rate limited (429): %v", e.Upstream, e.Err)
	}
	return fmt.Sprintf("%s rate limited (429)", e.Upstream)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is (or wraps) an upstream 429
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// ErrorKind maps an error to the taxonomy name used in terminal progress
// events and HTTP error envelopes.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyQuestion):
		return "EmptyQuestion"
	case errors.Is(err, ErrInvalidMaxResults):
		return "InvalidMaxResults"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case IsRateLimited(err):
		return "UpstreamRateLimited"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	default:
		var ge *GatewayError
		if errors.As(err, &ge) {
			if ge.Upstream == "llm" {
				return "LLMGatewayError"
			}
			return "LiteratureGatewayError"
		}
		return "InternalError"
	}
}
