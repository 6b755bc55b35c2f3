package validation

import (
	"strings"

	"github.com/bcnelson/sid/internal/domain"
)

// maxEchoedValue caps how much of a rejected value is echoed back to clients.
const maxEchoedValue = 64

// ValidationError reports a rejected request field. It matches
// domain.ErrInvalidInput and unwraps to the validator's error.
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`

	err error
}

// Invalid wraps the error a validator returned for field.
func Invalid(field, value string, err error) *ValidationError {
	if len(value) > maxEchoedValue {
		value = value[:maxEchoedValue] + "..."
	}
	return &ValidationError{Field: field, Value: value, Message: err.Error(), err: err}
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.err }

func (e *ValidationError) Is(target error) bool {
	return target == domain.ErrInvalidInput
}

// ValidationErrors collects every rejected field of one request.
type ValidationErrors []*ValidationError

// Check records err against field when it is non-nil.
func (e *ValidationErrors) Check(field, value string, err error) {
	if err != nil {
		*e = append(*e, Invalid(field, value, err))
	}
}

// Err returns the collection as an error, or nil when it is empty.
func (e ValidationErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == domain.ErrInvalidInput && len(e) > 0
}

// Unwrap exposes the individual field errors to errors.Is and errors.As.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, ve := range e {
		errs[i] = ve
	}
	return errs
}
