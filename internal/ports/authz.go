package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
)

// Enforcer decides whether a subject may perform an action on a resource within a tenant.
// Facts added through the enforcer are persisted before they become visible to Enforce.
type Enforcer interface {
	Enforce(ctx context.Context, subject, tenant uuid.UUID, resource, action string) (bool, error)
	AddGroupings(ctx context.Context, facts ...domain.GroupingFact) error
	AddPermissions(ctx context.Context, facts ...domain.PermissionFact) error
	Reload(ctx context.Context) error
}
