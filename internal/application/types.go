package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

type Config struct {
	FailedLoginThreshold int
	LockoutDuration      time.Duration
}

// Principal is an authenticated caller: the live identity plus the token it presented.
type Principal struct {
	Identity domain.Identity
	Claims   ports.AuthClaims
}

type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	TenantName string `json:"tenant_name"`
}

// UserView is the public shape of an identity. The password hash never leaves the service.
type UserView struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	IsActive  bool      `json:"is_active"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RegisterResponse struct {
	UserView
	Role   string    `json:"role"`
	RoleID uuid.UUID `json:"role_id"`
}

type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"-"`
}

type AddMemberRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type PermissionInput struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

type CreateRoleRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Permissions []PermissionInput `json:"permissions"`
}

type RoleView struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Permissions []PermissionInput `json:"permissions"`
	CreatedAt   time.Time         `json:"created_at"`
}

type TenantView struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AccessCheckRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

type AccessCheckResponse struct {
	Allowed bool `json:"allowed"`
}
