package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

func ownerParams(email string) ports.RegisterTenantOwnerParams {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tenantID := uuid.New()
	userID := uuid.New()
	return ports.RegisterTenantOwnerParams{
		Tenant:     domain.Tenant{TenantID: tenantID, Name: "Clinic", CreatedAt: now, UpdatedAt: now},
		Identity:   domain.Identity{UserID: userID, Email: email, PasswordHash: "h", IsActive: true, TenantID: tenantID, CreatedAt: now, UpdatedAt: now},
		Role:       domain.Role{RoleID: uuid.New(), TenantID: tenantID, Name: domain.AdminRole, CreatedAt: now},
		Grouping:   domain.GroupingFact{Subject: userID, Role: domain.AdminRole, Tenant: tenantID},
		Permission: domain.PermissionFact{Role: domain.AdminRole, Tenant: tenantID, Resource: domain.MatchAnything, Action: domain.MatchAnything},
		Event:      ports.OutboxEvent{EventID: uuid.New(), EventType: "tenant.registered", OccurredAt: now},
	}
}

func TestRegisterTenantOwnerIsAllOrNothing(t *testing.T) {
	t.Parallel()

	store := NewStore()
	repos := NewRepositories(store)
	ctx := context.Background()

	if err := repos.Registration.RegisterTenantOwnerTx(ctx, ownerParams("owner@clinic.com")); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	err := repos.Registration.RegisterTenantOwnerTx(ctx, ownerParams("owner@clinic.com"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	tenants, identities, groupings, permissions := store.Counts()
	if tenants != 1 || identities != 1 || groupings != 1 || permissions != 1 {
		t.Fatalf("duplicate registration left partial state: %d %d %d %d", tenants, identities, groupings, permissions)
	}
}

func TestPolicyFactsAreIdempotent(t *testing.T) {
	t.Parallel()

	repos := NewRepositories(NewStore())
	ctx := context.Background()
	fact := domain.GroupingFact{Subject: uuid.New(), Role: "vet", Tenant: uuid.New()}

	for i := 0; i < 3; i++ {
		if err := repos.Policies.AddGrouping(ctx, fact); err != nil {
			t.Fatalf("add grouping: %v", err)
		}
	}
	all, err := repos.Policies.ListGroupings(ctx)
	if err != nil {
		t.Fatalf("list groupings: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one grouping, got %d", len(all))
	}
	ok, err := repos.Policies.HasGrouping(ctx, fact)
	if err != nil || !ok {
		t.Fatalf("expected grouping present, ok=%v err=%v", ok, err)
	}
}

func TestDeactivateMemberRetractsOnlyThatTenant(t *testing.T) {
	t.Parallel()

	store := NewStore()
	repos := NewRepositories(store)
	ctx := context.Background()
	params := ownerParams("owner@clinic.com")
	if err := repos.Registration.RegisterTenantOwnerTx(ctx, params); err != nil {
		t.Fatalf("register: %v", err)
	}
	foreign := domain.GroupingFact{Subject: params.Identity.UserID, Role: "guest", Tenant: uuid.New()}
	if err := repos.Policies.AddGrouping(ctx, foreign); err != nil {
		t.Fatalf("add foreign grouping: %v", err)
	}

	retracted, err := repos.Registration.DeactivateMemberTx(ctx, ports.DeactivateMemberParams{
		TenantID:      params.Tenant.TenantID,
		UserID:        params.Identity.UserID,
		DeactivatedAt: time.Now().UTC(),
		Event:         ports.OutboxEvent{EventID: uuid.New(), EventType: "tenant.member_deactivated"},
	})
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if len(retracted) != 1 || retracted[0] != params.Grouping {
		t.Fatalf("unexpected retracted facts: %+v", retracted)
	}
	identity, err := repos.Identities.GetByID(ctx, params.Identity.UserID)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if identity.IsActive {
		t.Fatalf("expected identity to be inactive")
	}
	if ok, _ := repos.Policies.HasGrouping(ctx, foreign); !ok {
		t.Fatalf("grouping in another tenant must survive")
	}
}

func TestOutboxClaimAndPublish(t *testing.T) {
	t.Parallel()

	store := NewStore()
	repos := NewRepositories(store)
	ctx := context.Background()
	if err := repos.Registration.RegisterTenantOwnerTx(ctx, ownerParams("owner@clinic.com")); err != nil {
		t.Fatalf("register: %v", err)
	}

	claimed, err := repos.Outbox.ClaimUnpublished(ctx, 10, "worker-1", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected one claimed record, got %d", len(claimed))
	}
	again, err := repos.Outbox.ClaimUnpublished(ctx, 10, "worker-2", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("claimed record must not be handed out twice")
	}
	if err := repos.Outbox.MarkPublished(ctx, claimed[0].OutboxID, "worker-1", time.Now()); err != nil {
		t.Fatalf("mark published: %v", err)
	}
}

func TestCreateRoleTxWritesRoleAndGrantsTogether(t *testing.T) {
	t.Parallel()

	store := NewStore()
	repos := NewRepositories(store)
	ctx := context.Background()
	owner := ownerParams("owner@clinic.com")
	if err := repos.Registration.RegisterTenantOwnerTx(ctx, owner); err != nil {
		t.Fatalf("register: %v", err)
	}
	tenantID := owner.Tenant.TenantID

	params := func(action string) ports.CreateRoleParams {
		return ports.CreateRoleParams{
			Role: domain.Role{RoleID: uuid.New(), TenantID: tenantID, Name: "billing"},
			Permissions: []domain.PermissionFact{
				{Role: "billing", Tenant: tenantID, Resource: "invoices", Action: action},
			},
			Event: ports.OutboxEvent{EventID: uuid.New(), EventType: "tenant.role_created"},
		}
	}
	if err := repos.Registration.CreateRoleTx(ctx, params("read")); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := repos.Registration.CreateRoleTx(ctx, params("write")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	perms, err := repos.Policies.PermissionsFor(ctx, []domain.RoleName{"billing"}, tenantID)
	if err != nil {
		t.Fatalf("permissions for: %v", err)
	}
	if len(perms) != 1 || perms[0].Action != "read" {
		t.Fatalf("duplicate role must not add grants, got %+v", perms)
	}
	if _, err := repos.Policies.GetRole(ctx, tenantID, "billing"); err != nil {
		t.Fatalf("get role: %v", err)
	}
	if types := store.OutboxEventTypes(); len(types) != 2 {
		t.Fatalf("expected one role event after the registration event, got %v", types)
	}
}
