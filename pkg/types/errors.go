package types

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrInvalidNews      = errors.New("invalid news item")
	ErrTextTooShort     = errors.New("text is shorter than the shingle size")
	ErrNoTickers        = errors.New("at least one ticker is required")
	ErrEmptyTicker      = errors.New("ticker cannot be empty")
	ErrInvalidIntensity = errors.New("intensity must be between 1 and 10")
	ErrInvalidPolarity  = errors.New("polarity must be positive, negative or neutral")
)

// ValidationError reports which field of a NewsItem failed validation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrInvalidNews) match any validation failure.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidNews
}

func newValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}
