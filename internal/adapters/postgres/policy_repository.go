package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"gorm.io/gorm"
)

type policyRepository struct {
	db *gorm.DB
}

func (r *policyRepository) AddGrouping(ctx context.Context, fact domain.GroupingFact) error {
	return insertGrouping(r.db.WithContext(ctx), fact)
}

func (r *policyRepository) AddPermission(ctx context.Context, fact domain.PermissionFact) error {
	return insertPermission(r.db.WithContext(ctx), fact)
}

func (r *policyRepository) RemoveGrouping(ctx context.Context, fact domain.GroupingFact) error {
	return r.db.WithContext(ctx).
		Where("subject = ? AND role = ? AND tenant_id = ?", fact.Subject, fact.Role.String(), fact.Tenant).
		Delete(&groupingModel{}).Error
}

func (r *policyRepository) RemovePermission(ctx context.Context, fact domain.PermissionFact) error {
	return r.db.WithContext(ctx).
		Where("role = ? AND tenant_id = ? AND resource = ? AND action = ?", fact.Role.String(), fact.Tenant, fact.Resource, fact.Action).
		Delete(&permissionModel{}).Error
}

func (r *policyRepository) HasGrouping(ctx context.Context, fact domain.GroupingFact) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&groupingModel{}).
		Where("subject = ? AND role = ? AND tenant_id = ?", fact.Subject, fact.Role.String(), fact.Tenant).
		Count(&count).Error
	return count > 0, err
}

func (r *policyRepository) RolesFor(ctx context.Context, subject, tenant uuid.UUID) ([]domain.RoleName, error) {
	var names []string
	if err := r.db.WithContext(ctx).Model(&groupingModel{}).
		Where("subject = ? AND tenant_id = ?", subject, tenant).
		Order("role ASC").
		Pluck("role", &names).Error; err != nil {
		return nil, err
	}
	roles := make([]domain.RoleName, 0, len(names))
	for _, n := range names {
		roles = append(roles, domain.RoleName(n))
	}
	return roles, nil
}

func (r *policyRepository) PermissionsFor(ctx context.Context, roles []domain.RoleName, tenant uuid.UUID) ([]domain.PermissionFact, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.String())
	}
	var rows []permissionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND role IN ?", tenant, names).
		Order("role ASC, resource ASC, action ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toPermissionFacts(rows), nil
}

func (r *policyRepository) ListGroupings(ctx context.Context) ([]domain.GroupingFact, error) {
	var rows []groupingModel
	if err := r.db.WithContext(ctx).Order("tenant_id ASC, subject ASC, role ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.GroupingFact, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.GroupingFact{Subject: row.Subject, Role: domain.RoleName(row.Role), Tenant: row.TenantID})
	}
	return out, nil
}

func (r *policyRepository) ListPermissions(ctx context.Context) ([]domain.PermissionFact, error) {
	var rows []permissionModel
	if err := r.db.WithContext(ctx).Order("tenant_id ASC, role ASC, resource ASC, action ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toPermissionFacts(rows), nil
}

func (r *policyRepository) GetRole(ctx context.Context, tenant uuid.UUID, name domain.RoleName) (domain.Role, error) {
	var rec roleModel
	if err := r.db.WithContext(ctx).Where("tenant_id = ? AND name = ?", tenant, name.String()).Take(&rec).Error; err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	return toDomainRole(rec), nil
}

func (r *policyRepository) ListRoles(ctx context.Context, tenant uuid.UUID) ([]domain.Role, error) {
	var rows []roleModel
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenant).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Role, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainRole(row))
	}
	return out, nil
}

func toPermissionFacts(rows []permissionModel) []domain.PermissionFact {
	out := make([]domain.PermissionFact, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.PermissionFact{
			Role:     domain.RoleName(row.Role),
			Tenant:   row.TenantID,
			Resource: row.Resource,
			Action:   row.Action,
		})
	}
	return out
}
