package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// AdminRole is seeded for the first identity of every tenant.
	AdminRole RoleName = "admin"
	// MatchAnything is the wildcard pattern stored for blanket permissions.
	MatchAnything = ".*"

	maxPatternLength = 256
)

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]{0,63}$`)

// RoleName is a validated, tenant-scoped role identifier.
type RoleName string

// ParseRoleName normalizes and validates a role name.
// UUID-shaped names are rejected so a role can never collide with a subject id.
func ParseRoleName(raw string) (RoleName, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if !roleNamePattern.MatchString(name) {
		return "", NewFieldError("role", "must start with a letter and contain only a-z, 0-9, '_', '.', '-' (max 64)")
	}
	if _, err := uuid.Parse(name); err == nil {
		return "", NewFieldError("role", "must not be an identifier")
	}
	return RoleName(name), nil
}

func (r RoleName) String() string { return string(r) }

// GroupingFact states that Subject holds Role within Tenant.
type GroupingFact struct {
	Subject uuid.UUID
	Role    RoleName
	Tenant  uuid.UUID
}

// PermissionFact grants actions matching Action on resources matching Resource
// to every holder of Role within Tenant.
type PermissionFact struct {
	Role     RoleName
	Tenant   uuid.UUID
	Resource string
	Action   string
}

// ValidatePermission checks that a permission fact is storable.
func ValidatePermission(p PermissionFact) error {
	if p.Tenant == uuid.Nil {
		return NewFieldError("tenant_id", "is required")
	}
	if _, err := ParseRoleName(string(p.Role)); err != nil {
		return err
	}
	if err := validatePattern("resource", p.Resource); err != nil {
		return err
	}
	return validatePattern("action", p.Action)
}

func validatePattern(field, pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return NewFieldError(field, "is required")
	}
	if len(pattern) > maxPatternLength {
		return NewFieldError(field, fmt.Sprintf("must be <= %d characters", maxPatternLength))
	}
	if pattern == "*" {
		return nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return NewFieldError(field, "is not a valid pattern")
	}
	return nil
}
