package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

const serviceName = "M98-Tenant-Access-Service"

// Outbox event types.
const (
	EventTenantRegistered        = "tenant.registered"
	EventTenantMemberAdded       = "tenant.member_added"
	EventTenantMemberDeactivated = "tenant.member_deactivated"
	EventTenantRoleCreated       = "tenant.role_created"
)

// normalizeEmail canonicalizes and validates an address before storage or comparison.
func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", domain.NewFieldError("email", "is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", domain.NewFieldError("email", "is not a valid email address")
	}
	return trimmed, nil
}

func lockoutKey(email string) string {
	return "login:" + email
}

func newOutboxEvent(eventType, partitionKey string, at time.Time, payload map[string]any) ports.OutboxEvent {
	payload["event_type"] = eventType
	payload["occurred_at"] = at
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{}`)
	}
	return ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      raw,
		OccurredAt:   at,
	}
}

func toUserView(identity domain.Identity, roles []domain.RoleName) UserView {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.String())
	}
	return UserView{
		ID:        identity.UserID,
		Email:     identity.Email,
		FullName:  identity.FullName,
		IsActive:  identity.IsActive,
		TenantID:  identity.TenantID,
		Roles:     names,
		CreatedAt: identity.CreatedAt,
		UpdatedAt: identity.UpdatedAt,
	}
}

func toRoleView(role domain.Role, permissions []domain.PermissionFact) RoleView {
	perms := make([]PermissionInput, 0, len(permissions))
	for _, p := range permissions {
		perms = append(perms, PermissionInput{Resource: p.Resource, Action: p.Action})
	}
	return RoleView{
		ID:          role.RoleID,
		Name:        role.Name.String(),
		Description: role.Description,
		Permissions: perms,
		CreatedAt:   role.CreatedAt,
	}
}

// syncPolicy makes facts committed by a repository transaction visible to
// the enforcer. The durable write already succeeded, so a failure here is
// logged rather than returned; the engine falls back to a full reload.
func (s *Service) syncPolicy(ctx context.Context, operation string, groupings []domain.GroupingFact, permissions []domain.PermissionFact) {
	if len(permissions) > 0 {
		if err := s.enforcer.AddPermissions(ctx, permissions...); err != nil {
			s.logWarn(ctx, "policy sync failed after commit", operation, "error", err)
		}
	}
	if len(groupings) > 0 {
		if err := s.enforcer.AddGroupings(ctx, groupings...); err != nil {
			s.logWarn(ctx, "policy sync failed after commit", operation, "error", err)
		}
	}
}

func (s *Service) logInfo(ctx context.Context, msg, operation string, args ...any) {
	slog.Default().InfoContext(ctx, msg, append(logAttrs(operation, "success"), args...)...)
}

func (s *Service) logWarn(ctx context.Context, msg, operation string, args ...any) {
	slog.Default().WarnContext(ctx, msg, append(logAttrs(operation, "failure"), args...)...)
}

func logAttrs(operation, outcome string) []any {
	return []any{
		"service", serviceName,
		"module", "application",
		"layer", "application",
		"operation", operation,
		"outcome", outcome,
	}
}
