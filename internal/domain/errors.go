package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404/NOT_FOUND.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidCredentials hides whether email or password failed.
	// The reason is to prevent account-enumeration side channels.
	ErrInvalidCredentials = errors.New("incorrect email or password")
	// ErrAccountInactive is only reported after a correct password, so it reveals no secret.
	ErrAccountInactive = errors.New("inactive account")
	// ErrAccountLocked signals temporary lockout after repeated failed attempts.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidToken covers malformed, tampered, expired and revoked tokens alike.
	ErrInvalidToken = errors.New("invalid token")
	ErrUnauthorized = errors.New("could not validate credentials")
	// ErrForbidden is an authorization failure for an authenticated identity.
	ErrForbidden    = errors.New("not enough privileges")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limited")
	// ErrIntegrity marks a failed multi-step write that was rolled back.
	ErrIntegrity = errors.New("integrity violation")
)

// FieldError is a validation failure tied to one input field.
// It unwraps to ErrInvalidInput so adapters can map it with errors.Is.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return ErrInvalidInput }

// NewFieldError builds a field-level validation error.
func NewFieldError(field, message string) error {
	return &FieldError{Field: field, Message: message}
}
