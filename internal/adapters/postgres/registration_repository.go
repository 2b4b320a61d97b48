package postgres

import (
	"context"

	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type registrationRepository struct {
	db *gorm.DB
}

// RegisterTenantOwnerTx writes tenant, identity, admin role, grouping,
// permission and the outbox row in one transaction.
func (r *registrationRepository) RegisterTenantOwnerTx(ctx context.Context, params ports.RegisterTenantOwnerParams) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant := tenantModel{
			TenantID:  params.Tenant.TenantID,
			Name:      params.Tenant.Name,
			CreatedAt: params.Tenant.CreatedAt,
			UpdatedAt: params.Tenant.UpdatedAt,
		}
		if err := tx.Create(&tenant).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}

		user := toUserModel(params.Identity)
		if err := tx.Create(&user).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}

		role := toRoleModel(params.Role)
		if err := tx.Create(&role).Error; err != nil {
			return err
		}
		if err := insertGrouping(tx, params.Grouping); err != nil {
			return err
		}
		if err := insertPermission(tx, params.Permission); err != nil {
			return err
		}

		outbox := toOutboxModel(params.Event)
		return tx.Create(&outbox).Error
	})
}

func (r *registrationRepository) AddMemberTx(ctx context.Context, params ports.AddMemberParams) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var role roleModel
		if err := tx.Where("tenant_id = ? AND name = ?", params.Grouping.Tenant, params.Grouping.Role.String()).
			Take(&role).Error; err != nil {
			return mapNotFound(err)
		}

		user := toUserModel(params.Identity)
		if err := tx.Create(&user).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}
		if err := insertGrouping(tx, params.Grouping); err != nil {
			return err
		}

		outbox := toOutboxModel(params.Event)
		return tx.Create(&outbox).Error
	})
}

// DeactivateMemberTx flips is_active and deletes the member's grouping facts
// in the tenant, returning the facts it removed.
func (r *registrationRepository) DeactivateMemberTx(ctx context.Context, params ports.DeactivateMemberParams) ([]domain.GroupingFact, error) {
	var retracted []domain.GroupingFact
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&userModel{}).
			Where("user_id = ? AND tenant_id = ?", params.UserID, params.TenantID).
			Updates(map[string]any{
				"is_active":  false,
				"updated_at": params.DeactivatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}

		var rows []groupingModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("subject = ? AND tenant_id = ?", params.UserID, params.TenantID).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.Where("subject = ? AND tenant_id = ?", params.UserID, params.TenantID).
				Delete(&groupingModel{}).Error; err != nil {
				return err
			}
		}
		for _, row := range rows {
			retracted = append(retracted, domain.GroupingFact{
				Subject: row.Subject,
				Role:    domain.RoleName(row.Role),
				Tenant:  row.TenantID,
			})
		}

		outbox := toOutboxModel(params.Event)
		return tx.Create(&outbox).Error
	})
	if err != nil {
		return nil, err
	}
	return retracted, nil
}

// CreateRoleTx writes the role row, its permission facts and the outbox row
// in one transaction; a duplicate role name leaves nothing behind.
func (r *registrationRepository) CreateRoleTx(ctx context.Context, params ports.CreateRoleParams) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		role := toRoleModel(params.Role)
		if err := tx.Create(&role).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}
		for _, p := range params.Permissions {
			if err := insertPermission(tx, p); err != nil {
				return err
			}
		}

		outbox := toOutboxModel(params.Event)
		return tx.Create(&outbox).Error
	})
}

func insertGrouping(tx *gorm.DB, fact domain.GroupingFact) error {
	row := groupingModel{Subject: fact.Subject, Role: fact.Role.String(), TenantID: fact.Tenant}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func insertPermission(tx *gorm.DB, fact domain.PermissionFact) error {
	row := permissionModel{Role: fact.Role.String(), TenantID: fact.Tenant, Resource: fact.Resource, Action: fact.Action}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}
