package webhook

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// TransientError marks a delivery failure that is retried per the
// backoff policy: timeout, connection error, 5xx, 408 or 429.
type TransientError struct {
	StatusCode int // zero for network-level failures
	Cause      error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient delivery failure: %v", e.Cause)
	}
	return fmt.Sprintf("transient delivery failure: status %d", e.StatusCode)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// PermanentError marks a delivery rejected by the subscriber with a
// non-retryable 4xx. It is surfaced to the operator and never retried.
type PermanentError struct {
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent rejection: status %d", e.StatusCode)
}

// RetryableStatus reports whether an HTTP status code is retried.
// 2xx never reaches here; 408 and 429 are the retryable 4xx codes.
func RetryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	return code == 408 || code == 429
}

// ClassifyOutcome maps one attempt's result onto the error taxonomy:
// nil for a 2xx, *TransientError for anything worth retrying (network
// failure, timeout, 5xx, 408, 429), *PermanentError for the rest.
func ClassifyOutcome(status int, attemptErr error) error {
	if attemptErr != nil {
		return &TransientError{Cause: attemptErr}
	}
	if status >= 200 && status < 300 {
		return nil
	}
	if RetryableStatus(status) {
		return &TransientError{StatusCode: status}
	}
	return &PermanentError{StatusCode: status}
}
