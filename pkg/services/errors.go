// Package services implements the gateway's business layer: user
// registration and authentication, the shop/order entity flows, and the
// translation of REST calls into delivery contract operations under the
// caller's own ledger identity.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when creating a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrNotAuthorized is returned when the caller may not perform the
	// operation on this entity.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidState is returned when an entity's state forbids the
	// operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrBadCredentials is returned on login failure. Deliberately
	// indistinguishable between unknown user and wrong password.
	ErrBadCredentials = errors.New("invalid username or password")

	// ErrEnrollment is returned when CA enrollment fails during
	// registration; the user row has been rolled back.
	ErrEnrollment = errors.New("identity enrollment failed")
)

// ValidationError wraps a field-specific validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
