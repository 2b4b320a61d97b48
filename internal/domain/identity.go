package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the isolation boundary that owns identities and policy facts.
type Tenant struct {
	TenantID  uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity is a user account owned by exactly one tenant.
// Roles are not stored here; they are resolved through grouping facts.
type Identity struct {
	UserID       uuid.UUID
	Email        string
	PasswordHash string
	FullName     string
	IsActive     bool
	TenantID     uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role is a tenant-scoped role catalogue entry.
type Role struct {
	RoleID      uuid.UUID
	TenantID    uuid.UUID
	Name        RoleName
	Description string
	CreatedAt   time.Time
}
