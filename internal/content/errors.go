package content

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors shared across stores and services.
var (
	// ErrBlankURL is returned by Canonicalize for empty input. Callers treat
	// it as "skip, no record created", not a failure.
	ErrBlankURL = errors.New("blank url")

	// ErrInvalidURL is returned for unparsable input or input missing a
	// host or scheme.
	ErrInvalidURL = errors.New("invalid url")

	// ErrNotFound is returned by stores when a referenced entity no longer
	// exists. Chained jobs discard it silently.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned by Record creation when the (site,
	// canonical_url) uniqueness constraint fires.
	ErrDuplicate = errors.New("duplicate record")
)

// ErrorKind classifies a failure for the worker's retry policy.
type ErrorKind string

// Error kinds recognized by the retry policy table.
const (
	KindTransient     ErrorKind = "transient"
	KindRateLimited   ErrorKind = "rate_limited"
	KindConfiguration ErrorKind = "configuration"
	KindDataShape     ErrorKind = "data_shape"
	KindNotFound      ErrorKind = "not_found"
)

// TransientError wraps a retryable upstream failure (timeout, 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError wraps an upstream rate-limit response. Retried with a
// longer backoff than plain transient failures.
type RateLimitedError struct {
	Err error
}

func (e *RateLimitedError) Error() string { return fmt.Sprintf("rate limited: %v", e.Err) }
func (e *RateLimitedError) Unwrap() error { return e.Err }

// ConfigurationError marks missing credentials or required config. Fatal:
// retrying cannot help, the job is discarded.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("configuration: missing or invalid %q", e.Key)
	}
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DataShapeError marks a malformed external payload. Recovered locally; a
// single bad item never fails a whole run.
type DataShapeError struct {
	Err error
}

func (e *DataShapeError) Error() string { return fmt.Sprintf("data shape: %v", e.Err) }
func (e *DataShapeError) Unwrap() error { return e.Err }

// Classify maps an error onto the retry policy taxonomy. Unknown errors are
// treated as transient so the retry budget, not the classification, bounds
// them.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var (
		transient *TransientError
		limited   *RateLimitedError
		config    *ConfigurationError
		shape     *DataShapeError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &config):
		return KindConfiguration
	case errors.As(err, &limited):
		return KindRateLimited
	case errors.As(err, &shape),
		errors.Is(err, ErrBlankURL),
		errors.Is(err, ErrInvalidURL):
		return KindDataShape
	case errors.As(err, &transient):
		return KindTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindTransient
}
