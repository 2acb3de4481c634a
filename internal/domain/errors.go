package domain

import (
	"errors"
	"fmt"
)

// FetchError reports that a single feed could not be retrieved or parsed.
type FetchError struct {
	FeedURL string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch feed %s: %v", e.FeedURL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ValidationError reports a model response that does not satisfy the verdict schema.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid verdicts: " + e.Reason
}

// NewValidationError formats a validation failure.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// TransientAPIError wraps a failure that may succeed on retry (network, 429, 5xx).
type TransientAPIError struct {
	Err error
}

func (e *TransientAPIError) Error() string {
	return e.Err.Error()
}

func (e *TransientAPIError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	return &TransientAPIError{Err: err}
}

// PermanentAPIError wraps a failure that retrying cannot fix (auth, bad config).
type PermanentAPIError struct {
	Err error
}

func (e *PermanentAPIError) Error() string {
	return e.Err.Error()
}

func (e *PermanentAPIError) Unwrap() error {
	return e.Err
}

// NewPermanentError marks err as non-retryable.
func NewPermanentError(err error) error {
	return &PermanentAPIError{Err: err}
}

// StoreUnavailableError aborts the run: without the store there is no dedup guarantee.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("state store unavailable (%s): %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var transient *TransientAPIError
	return errors.As(err, &transient)
}

// IsPermanent reports whether err is a non-retryable API failure.
func IsPermanent(err error) bool {
	var permanent *PermanentAPIError
	return errors.As(err, &permanent)
}

// IsValidation reports whether err is a verdict schema failure.
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}

// IsStoreUnavailable reports whether err must abort the run.
func IsStoreUnavailable(err error) bool {
	var store *StoreUnavailableError
	return errors.As(err, &store)
}
