package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrSignatureInvalid is returned when the signature does not match the body
	ErrSignatureInvalid = errors.New("billing event signature invalid")

	// ErrConfig is returned when the signing secret or credentials are missing
	ErrConfig = errors.New("billing configuration error")

	// ErrMalformedEvent is returned when a verified body cannot be decoded
	ErrMalformedEvent = errors.New("malformed billing event")

	// ErrScopeUnresolvable is returned when neither metadata nor the customer
	// id maps to a personal account or organization
	ErrScopeUnresolvable = errors.New("billing event scope unresolvable")
)

// RetryableError marks a transient failure. The provider is asked to
// redeliver the event.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func retryable(op string, err error) error {
	return &RetryableError{Op: op, Err: err}
}

// IsRetryable reports whether err asks for redelivery
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
