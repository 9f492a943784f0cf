package model

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrValidation      = errors.New("validation failed")
	ErrExternalService = errors.New("external service failure")
)

// NotFoundError reports a missing attempt, paper or question.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StateError reports an operation that is illegal in the attempt's current status.
type StateError struct {
	Op      string
	ID      int64
	Status  AttemptStatus
	Message string
}

func (e *StateError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %d: %s", e.Op, e.ID, e.Message)
	}
	return fmt.Sprintf("%s %d: not allowed in status %s", e.Op, e.ID, e.Status)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// ValidationError reports a malformed request or catalog entry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ExternalServiceError wraps a failure of the AI adapter or another remote dependency.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }
