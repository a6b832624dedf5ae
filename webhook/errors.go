package webhook

import "errors"

var (
	// ErrNotFound is returned when no webhook has the requested ID.
	ErrNotFound = errors.New("courier: webhook not found")

	// ErrInvalidURL is returned for URLs without an http or https scheme.
	ErrInvalidURL = errors.New("courier: webhook url must start with http:// or https://")
)

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return "webhook validation: " + e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }
