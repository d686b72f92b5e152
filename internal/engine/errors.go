package engine

import (
	"context"
	"errors"
	"net/http"
)

// TransientError is a temporary upstream failure that may succeed on retry:
// timeouts, rate limits, connection failures and 5xx responses.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError is a permanent upstream failure that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// retryableStatus reports whether an HTTP status code signals a temporary condition.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		code >= http.StatusInternalServerError
}

// classify wraps err as transient or fatal. statusCode is the upstream HTTP
// status when one is known, or 0.
func classify(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsFatal(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return NewFatalError(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(err)
	}
	if statusCode != 0 {
		if retryableStatus(statusCode) {
			return NewTransientError(err)
		}
		return NewFatalError(err)
	}
	// No status means the request never completed: connection refused,
	// reset or DNS failure.
	return NewTransientError(err)
}
