package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
)

// IdentityRepository reads identities. Writes go through RegistrationRepository
// so identity state never diverges from its policy facts.
type IdentityRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.Identity, error)
	GetByID(ctx context.Context, userID uuid.UUID) (domain.Identity, error)
}

// TenantRepository reads tenants.
type TenantRepository interface {
	GetByID(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, error)
}

// RegisterTenantOwnerParams is everything a tenant registration writes.
// The repository persists all of it in one transaction or nothing at all.
type RegisterTenantOwnerParams struct {
	Tenant     domain.Tenant
	Identity   domain.Identity
	Role       domain.Role
	Grouping   domain.GroupingFact
	Permission domain.PermissionFact
	Event      OutboxEvent
}

// AddMemberParams creates an additional identity bound to an existing tenant role.
type AddMemberParams struct {
	Identity domain.Identity
	Grouping domain.GroupingFact
	Event    OutboxEvent
}

// DeactivateMemberParams deactivates an identity and retracts its grouping facts.
type DeactivateMemberParams struct {
	TenantID      uuid.UUID
	UserID        uuid.UUID
	DeactivatedAt time.Time
	Event         OutboxEvent
}

// CreateRoleParams adds a tenant role together with its permission facts.
type CreateRoleParams struct {
	Role        domain.Role
	Permissions []domain.PermissionFact
	Event       OutboxEvent
}

// RegistrationRepository owns the multi-row writes that must be atomic.
type RegistrationRepository interface {
	RegisterTenantOwnerTx(ctx context.Context, params RegisterTenantOwnerParams) error
	AddMemberTx(ctx context.Context, params AddMemberParams) error
	DeactivateMemberTx(ctx context.Context, params DeactivateMemberParams) ([]domain.GroupingFact, error)
	CreateRoleTx(ctx context.Context, params CreateRoleParams) error
}

// PolicyRepository is the durable store of grouping and permission facts.
// Add operations are idempotent; adding an existing fact is a no-op.
type PolicyRepository interface {
	AddGrouping(ctx context.Context, fact domain.GroupingFact) error
	AddPermission(ctx context.Context, fact domain.PermissionFact) error
	RemoveGrouping(ctx context.Context, fact domain.GroupingFact) error
	RemovePermission(ctx context.Context, fact domain.PermissionFact) error
	HasGrouping(ctx context.Context, fact domain.GroupingFact) (bool, error)
	RolesFor(ctx context.Context, subject, tenant uuid.UUID) ([]domain.RoleName, error)
	PermissionsFor(ctx context.Context, roles []domain.RoleName, tenant uuid.UUID) ([]domain.PermissionFact, error)
	ListGroupings(ctx context.Context) ([]domain.GroupingFact, error)
	ListPermissions(ctx context.Context) ([]domain.PermissionFact, error)

	GetRole(ctx context.Context, tenant uuid.UUID, name domain.RoleName) (domain.Role, error)
	ListRoles(ctx context.Context, tenant uuid.UUID) ([]domain.Role, error)
}

// OutboxEvent is the write-side event payload prior to storage.
// It is adapter-neutral to keep application code independent of broker specifics.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID     uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	CreatedAt    time.Time
}

// OutboxRepository is the relay side of the transactional outbox.
type OutboxRepository interface {
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}
