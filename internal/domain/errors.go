package domain

import (
	"fmt"
	"strings"
)

// Error types for consistent error handling across the service.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// FieldViolation names one field constraint an input failed.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrValidation indicates input failed one or more field constraints.
// It carries every violation so callers can correct all issues in one pass.
type ErrValidation struct {
	Violations []FieldViolation
}

func (e *ErrValidation) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a violation. Returns the receiver for chaining in validators.
func (e *ErrValidation) Add(field, message string) *ErrValidation {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Message: message})
	return e
}

// ErrInvalidState indicates a requested lifecycle transition is not permitted
// from the resource's current state.
type ErrInvalidState struct {
	Resource string
	ID       string
	Current  string
	Action   string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("cannot %s %s %s: current status is '%s'", e.Action, e.Resource, e.ID, e.Current)
}

// ErrConflict indicates a uniqueness constraint was hit (e.g. a duplicate
// transaction for the same mandate and due date).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
