// Package errs defines the error taxonomy for the processing pipeline.
//
// InputError is fatal for a job: the source media or companion documents are
// unusable and no partial output is produced. ExternalServiceError covers any
// failure of a remote model/API; it is recovered locally with bounded retries
// and degrades a single scene or segment, never the whole job, unless strict
// mode is enabled.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalTransition is returned when a job phase transition is not in
	// the allowed-transition table.
	ErrIllegalTransition = errors.New("illegal phase transition")

	// ErrJobNotFound is returned for lookups of unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
)

// InputError marks unreadable or corrupt input media/documents.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("unusable input %s: %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// NewInputError wraps err as a fatal input failure.
func NewInputError(path string, err error) *InputError {
	return &InputError{Path: path, Err: err}
}

// IsInputError reports whether err is (or wraps) an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// ExternalServiceError marks a failed call to a remote model or API.
type ExternalServiceError struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Provider, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// NewExternalServiceError wraps err as a provider failure. Rate limits and
// timeouts should be marked retryable.
func NewExternalServiceError(provider string, retryable bool, err error) *ExternalServiceError {
	return &ExternalServiceError{Provider: provider, Retryable: retryable, Err: err}
}

// IsExternalServiceError reports whether err is (or wraps) an ExternalServiceError.
func IsExternalServiceError(err error) bool {
	var ee *ExternalServiceError
	return errors.As(err, &ee)
}

// IsRetryable reports whether err is an external failure worth retrying.
func IsRetryable(err error) bool {
	var ee *ExternalServiceError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}
