package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	minPasswordLength = 8
	// Long inputs are pre-digested before bcrypt, so this only bounds request cost.
	maxPasswordLength = 1024

	maxNameLength = 200
)

// ValidatePassword enforces the baseline password policy.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLength {
		return NewFieldError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	if n > maxPasswordLength {
		return NewFieldError("password", fmt.Sprintf("must be <= %d characters", maxPasswordLength))
	}
	return nil
}

// ValidateTenantName enforces a required, bounded tenant display name.
func ValidateTenantName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return NewFieldError("tenant_name", "is required")
	}
	if utf8.RuneCountInString(trimmed) > maxNameLength {
		return NewFieldError("tenant_name", fmt.Sprintf("must be <= %d characters", maxNameLength))
	}
	return nil
}

// ValidateFullName bounds the optional display name.
func ValidateFullName(name string) error {
	if utf8.RuneCountInString(strings.TrimSpace(name)) > maxNameLength {
		return NewFieldError("full_name", fmt.Sprintf("must be <= %d characters", maxNameLength))
	}
	return nil
}
