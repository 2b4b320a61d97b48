package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

// Authorize returns nil when the principal may perform action on resource
// within its own tenant and domain.ErrForbidden otherwise.
func (s *Service) Authorize(ctx context.Context, principal Principal, resource, action string) error {
	allowed, err := s.enforcer.Enforce(ctx, principal.Identity.UserID, principal.Identity.TenantID, resource, action)
	if err != nil {
		return err
	}
	if !allowed {
		return domain.ErrForbidden
	}
	return nil
}

// CheckAccess answers an explicit permission query for the caller.
func (s *Service) CheckAccess(ctx context.Context, principal Principal, req AccessCheckRequest) (AccessCheckResponse, error) {
	resource := strings.TrimSpace(req.Resource)
	action := strings.TrimSpace(req.Action)
	if resource == "" {
		return AccessCheckResponse{}, domain.NewFieldError("resource", "is required")
	}
	if action == "" {
		return AccessCheckResponse{}, domain.NewFieldError("action", "is required")
	}
	allowed, err := s.enforcer.Enforce(ctx, principal.Identity.UserID, principal.Identity.TenantID, resource, action)
	if err != nil {
		return AccessCheckResponse{}, err
	}
	return AccessCheckResponse{Allowed: allowed}, nil
}

func (s *Service) CurrentTenant(ctx context.Context, principal Principal) (TenantView, error) {
	tenant, err := s.tenants.GetByID(ctx, principal.Identity.TenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return TenantView{}, fmt.Errorf("%w: identity %s references missing tenant", domain.ErrIntegrity, principal.Identity.UserID)
		}
		return TenantView{}, fmt.Errorf("load tenant: %w", err)
	}
	return TenantView{
		ID:        tenant.TenantID,
		Name:      tenant.Name,
		CreatedAt: tenant.CreatedAt,
		UpdatedAt: tenant.UpdatedAt,
	}, nil
}

// AddMember creates another identity in the caller's tenant bound to an
// existing tenant role.
func (s *Service) AddMember(ctx context.Context, principal Principal, req AddMemberRequest) (UserView, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return UserView{}, err
	}
	if err := domain.ValidatePassword(req.Password); err != nil {
		return UserView{}, err
	}
	if err := domain.ValidateFullName(req.FullName); err != nil {
		return UserView{}, err
	}
	roleName, err := domain.ParseRoleName(req.Role)
	if err != nil {
		return UserView{}, err
	}

	tenantID := principal.Identity.TenantID
	if _, err := s.policies.GetRole(ctx, tenantID, roleName); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return UserView{}, domain.NewFieldError("role", "does not exist in this tenant")
		}
		return UserView{}, fmt.Errorf("load role: %w", err)
	}

	passwordHash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return UserView{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.nowFn()
	identity := domain.Identity{
		UserID:       uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     strings.TrimSpace(req.FullName),
		IsActive:     true,
		TenantID:     tenantID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	grouping := domain.GroupingFact{Subject: identity.UserID, Role: roleName, Tenant: tenantID}

	err = s.registration.AddMemberTx(ctx, ports.AddMemberParams{
		Identity: identity,
		Grouping: grouping,
		Event: newOutboxEvent(EventTenantMemberAdded, tenantID.String(), now, map[string]any{
			"tenant_id": tenantID,
			"user_id":   identity.UserID,
			"email":     identity.Email,
			"role":      roleName,
			"added_by":  principal.Identity.UserID,
		}),
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return UserView{}, fmt.Errorf("%w: email already registered", domain.ErrConflict)
		}
		if errors.Is(err, domain.ErrNotFound) {
			return UserView{}, domain.NewFieldError("role", "does not exist in this tenant")
		}
		return UserView{}, fmt.Errorf("add member: %w", err)
	}

	s.syncPolicy(ctx, "add_member", []domain.GroupingFact{grouping}, nil)
	s.logInfo(ctx, "member added", "add_member",
		"tenant_id", tenantID.String(),
		"user_id", identity.UserID.String(),
		"role", roleName.String(),
	)
	return toUserView(identity, []domain.RoleName{roleName}), nil
}

// DeactivateMember disables an identity in the caller's tenant and retracts
// its role bindings so it is denied immediately.
func (s *Service) DeactivateMember(ctx context.Context, principal Principal, userID uuid.UUID) error {
	if userID == principal.Identity.UserID {
		return domain.NewFieldError("user_id", "cannot deactivate yourself")
	}
	tenantID := principal.Identity.TenantID
	now := s.nowFn()

	retracted, err := s.registration.DeactivateMemberTx(ctx, ports.DeactivateMemberParams{
		TenantID:      tenantID,
		UserID:        userID,
		DeactivatedAt: now,
		Event: newOutboxEvent(EventTenantMemberDeactivated, tenantID.String(), now, map[string]any{
			"tenant_id":      tenantID,
			"user_id":        userID,
			"deactivated_by": principal.Identity.UserID,
		}),
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: member not found", domain.ErrNotFound)
		}
		return fmt.Errorf("deactivate member: %w", err)
	}

	if len(retracted) > 0 {
		if err := s.enforcer.Reload(ctx); err != nil {
			s.logWarn(ctx, "policy reload after retraction failed", "deactivate_member", "error", err)
		}
	}
	s.logInfo(ctx, "member deactivated", "deactivate_member",
		"tenant_id", tenantID.String(),
		"user_id", userID.String(),
		"retracted_count", len(retracted),
	)
	return nil
}

// CreateRole adds a tenant-scoped role and its permission facts.
func (s *Service) CreateRole(ctx context.Context, principal Principal, req CreateRoleRequest) (RoleView, error) {
	name, err := domain.ParseRoleName(req.Name)
	if err != nil {
		return RoleView{}, err
	}
	description := strings.TrimSpace(req.Description)
	if len(description) > 500 {
		return RoleView{}, domain.NewFieldError("description", "must be <= 500 characters")
	}

	tenantID := principal.Identity.TenantID
	facts := make([]domain.PermissionFact, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		fact := domain.PermissionFact{
			Role:     name,
			Tenant:   tenantID,
			Resource: strings.TrimSpace(p.Resource),
			Action:   strings.TrimSpace(p.Action),
		}
		if err := domain.ValidatePermission(fact); err != nil {
			return RoleView{}, err
		}
		facts = append(facts, fact)
	}

	now := s.nowFn()
	role := domain.Role{
		RoleID:      uuid.New(),
		TenantID:    tenantID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
	}
	permissions := make([]map[string]string, 0, len(facts))
	for _, f := range facts {
		permissions = append(permissions, map[string]string{"resource": f.Resource, "action": f.Action})
	}
	err = s.registration.CreateRoleTx(ctx, ports.CreateRoleParams{
		Role:        role,
		Permissions: facts,
		Event: newOutboxEvent(EventTenantRoleCreated, tenantID.String(), now, map[string]any{
			"tenant_id":   tenantID,
			"role_id":     role.RoleID,
			"role":        name,
			"permissions": permissions,
			"created_by":  principal.Identity.UserID,
		}),
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return RoleView{}, fmt.Errorf("%w: role %q already exists", domain.ErrConflict, name)
		}
		return RoleView{}, fmt.Errorf("create role: %w", err)
	}

	s.syncPolicy(ctx, "create_role", nil, facts)

	s.logInfo(ctx, "role created", "create_role",
		"tenant_id", tenantID.String(),
		"role", name.String(),
		"permission_count", len(facts),
	)
	return toRoleView(role, facts), nil
}

func (s *Service) ListRoles(ctx context.Context, principal Principal) ([]RoleView, error) {
	tenantID := principal.Identity.TenantID
	roles, err := s.policies.ListRoles(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	names := make([]domain.RoleName, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	permissions, err := s.policies.PermissionsFor(ctx, names, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	byRole := make(map[domain.RoleName][]domain.PermissionFact, len(roles))
	for _, p := range permissions {
		byRole[p.Role] = append(byRole[p.Role], p)
	}

	out := make([]RoleView, 0, len(roles))
	for _, r := range roles {
		out = append(out, toRoleView(r, byRole[r.Name]))
	}
	return out, nil
}

// AssignRole binds an existing tenant role to an active member of the same tenant.
func (s *Service) AssignRole(ctx context.Context, principal Principal, userID uuid.UUID, rawRole string) error {
	name, err := domain.ParseRoleName(rawRole)
	if err != nil {
		return err
	}
	tenantID := principal.Identity.TenantID
	if _, err := s.policies.GetRole(ctx, tenantID, name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: role not found", domain.ErrNotFound)
		}
		return fmt.Errorf("load role: %w", err)
	}
	member, err := s.memberOf(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !member.IsActive {
		return domain.NewFieldError("user_id", "member is inactive")
	}

	if err := s.enforcer.AddGroupings(ctx, domain.GroupingFact{Subject: userID, Role: name, Tenant: tenantID}); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	s.logInfo(ctx, "role assigned", "assign_role",
		"tenant_id", tenantID.String(),
		"user_id", userID.String(),
		"role", name.String(),
	)
	return nil
}

func (s *Service) ListMemberRoles(ctx context.Context, principal Principal, userID uuid.UUID) ([]string, error) {
	tenantID := principal.Identity.TenantID
	if _, err := s.memberOf(ctx, tenantID, userID); err != nil {
		return nil, err
	}
	roles, err := s.policies.RolesFor(ctx, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.String())
	}
	return out, nil
}

// memberOf hides identities of other tenants behind ErrNotFound.
func (s *Service) memberOf(ctx context.Context, tenantID, userID uuid.UUID) (domain.Identity, error) {
	identity, err := s.identities.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Identity{}, fmt.Errorf("%w: member not found", domain.ErrNotFound)
		}
		return domain.Identity{}, fmt.Errorf("load member: %w", err)
	}
	if identity.TenantID != tenantID {
		return domain.Identity{}, fmt.Errorf("%w: member not found", domain.ErrNotFound)
	}
	return identity, nil
}
