package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Identities   ports.IdentityRepository
	Tenants      ports.TenantRepository
	Registration ports.RegistrationRepository
	Policies     ports.PolicyRepository
	Outbox       ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Identities:   &identityRepository{db: db},
		Tenants:      &tenantRepository{db: db},
		Registration: &registrationRepository{db: db},
		Policies:     &policyRepository{db: db},
		Outbox:       &outboxRepository{db: db},
	}
}

type identityRepository struct {
	db *gorm.DB
}

func (r *identityRepository) GetByEmail(ctx context.Context, email string) (domain.Identity, error) {
	var rec userModel
	if err := r.db.WithContext(ctx).Where("email = ?", email).Take(&rec).Error; err != nil {
		return domain.Identity{}, mapNotFound(err)
	}
	return toDomainIdentity(rec), nil
}

func (r *identityRepository) GetByID(ctx context.Context, userID uuid.UUID) (domain.Identity, error) {
	var rec userModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error; err != nil {
		return domain.Identity{}, mapNotFound(err)
	}
	return toDomainIdentity(rec), nil
}

type tenantRepository struct {
	db *gorm.DB
}

func (r *tenantRepository) GetByID(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, error) {
	var rec tenantModel
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Take(&rec).Error; err != nil {
		return domain.Tenant{}, mapNotFound(err)
	}
	return toDomainTenant(rec), nil
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
