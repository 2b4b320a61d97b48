package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

type tenantModel struct {
	TenantID  uuid.UUID `gorm:"column:tenant_id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (tenantModel) TableName() string { return "tenants" }

type userModel struct {
	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	Email        string    `gorm:"column:email"`
	PasswordHash string    `gorm:"column:password_hash"`
	FullName     string    `gorm:"column:full_name"`
	IsActive     bool      `gorm:"column:is_active"`
	TenantID     uuid.UUID `gorm:"column:tenant_id;type:uuid"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (userModel) TableName() string { return "users" }

type roleModel struct {
	RoleID      uuid.UUID `gorm:"column:role_id;type:uuid;primaryKey"`
	TenantID    uuid.UUID `gorm:"column:tenant_id;type:uuid"`
	Name        string    `gorm:"column:name"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (roleModel) TableName() string { return "rbac_roles" }

type groupingModel struct {
	Subject  uuid.UUID `gorm:"column:subject;type:uuid;primaryKey"`
	Role     string    `gorm:"column:role;primaryKey"`
	TenantID uuid.UUID `gorm:"column:tenant_id;type:uuid;primaryKey"`
}

func (groupingModel) TableName() string { return "rbac_groupings" }

type permissionModel struct {
	Role     string    `gorm:"column:role;primaryKey"`
	TenantID uuid.UUID `gorm:"column:tenant_id;type:uuid;primaryKey"`
	Resource string    `gorm:"column:resource;primaryKey"`
	Action   string    `gorm:"column:action;primaryKey"`
}

func (permissionModel) TableName() string { return "rbac_permissions" }

type accessOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (accessOutboxModel) TableName() string { return "access_outbox" }

func toDomainTenant(row tenantModel) domain.Tenant {
	return domain.Tenant{
		TenantID:  row.TenantID,
		Name:      row.Name,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func toDomainIdentity(row userModel) domain.Identity {
	return domain.Identity{
		UserID:       row.UserID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		FullName:     row.FullName,
		IsActive:     row.IsActive,
		TenantID:     row.TenantID,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func toDomainRole(row roleModel) domain.Role {
	return domain.Role{
		RoleID:      row.RoleID,
		TenantID:    row.TenantID,
		Name:        domain.RoleName(row.Name),
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
	}
}

func toUserModel(identity domain.Identity) userModel {
	return userModel{
		UserID:       identity.UserID,
		Email:        identity.Email,
		PasswordHash: identity.PasswordHash,
		FullName:     identity.FullName,
		IsActive:     identity.IsActive,
		TenantID:     identity.TenantID,
		CreatedAt:    identity.CreatedAt,
		UpdatedAt:    identity.UpdatedAt,
	}
}

func toRoleModel(role domain.Role) roleModel {
	return roleModel{
		RoleID:      role.RoleID,
		TenantID:    role.TenantID,
		Name:        role.Name.String(),
		Description: role.Description,
		CreatedAt:   role.CreatedAt,
	}
}

func toOutboxModel(event ports.OutboxEvent) accessOutboxModel {
	payload := string(event.Payload)
	if payload == "" {
		payload = "{}"
	}
	return accessOutboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      payload,
		CreatedAt:    event.OccurredAt,
	}
}
