package cron

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("job not found")
)

// ValidationError reports which input was rejected.
// Message is safe to show to API callers.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

const (
	msgMissingFields = "Missing required fields"
	msgInvalidCron   = "Invalid cron expression"
)

func missingField(field string) error {
	return &ValidationError{Field: field, Message: msgMissingFields}
}

func invalidSchedule(err error) error {
	return &ValidationError{Field: "schedule", Message: msgInvalidCron, Err: err}
}
