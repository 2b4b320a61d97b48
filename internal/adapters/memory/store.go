package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

// Store keeps every repository's state behind one lock so multi-row writes
// are atomic exactly as they are in Postgres.
type Store struct {
	mu sync.RWMutex

	tenants     map[uuid.UUID]domain.Tenant
	identities  map[uuid.UUID]domain.Identity
	emails      map[string]uuid.UUID
	roles       map[roleKey]domain.Role
	groupings   map[domain.GroupingFact]struct{}
	permissions map[domain.PermissionFact]struct{}
	outbox      []outboxRow
}

type roleKey struct {
	tenant uuid.UUID
	name   domain.RoleName
}

type outboxRow struct {
	event        ports.OutboxEvent
	publishedAt  *time.Time
	deadLettered bool
	retryCount   int
	lastError    string
	claimToken   string
	claimUntil   time.Time
}

func NewStore() *Store {
	return &Store{
		tenants:     map[uuid.UUID]domain.Tenant{},
		identities:  map[uuid.UUID]domain.Identity{},
		emails:      map[string]uuid.UUID{},
		roles:       map[roleKey]domain.Role{},
		groupings:   map[domain.GroupingFact]struct{}{},
		permissions: map[domain.PermissionFact]struct{}{},
	}
}

// Repositories mirrors postgres.Repositories so bootstrap can pick either.
type Repositories struct {
	Identities   ports.IdentityRepository
	Tenants      ports.TenantRepository
	Registration ports.RegistrationRepository
	Policies     ports.PolicyRepository
	Outbox       ports.OutboxRepository
}

func NewRepositories(store *Store) Repositories {
	return Repositories{
		Identities:   identityRepository{store},
		Tenants:      tenantRepository{store},
		Registration: registrationRepository{store},
		Policies:     policyRepository{store},
		Outbox:       outboxRepository{store},
	}
}

type identityRepository struct{ s *Store }

func (r identityRepository) GetByEmail(_ context.Context, email string) (domain.Identity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.emails[email]
	if !ok {
		return domain.Identity{}, domain.ErrNotFound
	}
	return r.s.identities[id], nil
}

func (r identityRepository) GetByID(_ context.Context, userID uuid.UUID) (domain.Identity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	identity, ok := r.s.identities[userID]
	if !ok {
		return domain.Identity{}, domain.ErrNotFound
	}
	return identity, nil
}

type tenantRepository struct{ s *Store }

func (r tenantRepository) GetByID(_ context.Context, tenantID uuid.UUID) (domain.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	tenant, ok := r.s.tenants[tenantID]
	if !ok {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return tenant, nil
}

type registrationRepository struct{ s *Store }

func (r registrationRepository) RegisterTenantOwnerTx(_ context.Context, params ports.RegisterTenantOwnerParams) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.emails[params.Identity.Email]; taken {
		return domain.ErrConflict
	}
	if _, exists := s.tenants[params.Tenant.TenantID]; exists {
		return domain.ErrConflict
	}
	if _, exists := s.identities[params.Identity.UserID]; exists {
		return domain.ErrConflict
	}

	s.tenants[params.Tenant.TenantID] = params.Tenant
	s.identities[params.Identity.UserID] = params.Identity
	s.emails[params.Identity.Email] = params.Identity.UserID
	s.roles[roleKey{params.Role.TenantID, params.Role.Name}] = params.Role
	s.groupings[params.Grouping] = struct{}{}
	s.permissions[params.Permission] = struct{}{}
	s.outbox = append(s.outbox, outboxRow{event: params.Event})
	return nil
}

func (r registrationRepository) AddMemberTx(_ context.Context, params ports.AddMemberParams) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[params.Identity.TenantID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := s.roles[roleKey{params.Grouping.Tenant, params.Grouping.Role}]; !ok {
		return domain.ErrNotFound
	}
	if _, taken := s.emails[params.Identity.Email]; taken {
		return domain.ErrConflict
	}

	s.identities[params.Identity.UserID] = params.Identity
	s.emails[params.Identity.Email] = params.Identity.UserID
	s.groupings[params.Grouping] = struct{}{}
	s.outbox = append(s.outbox, outboxRow{event: params.Event})
	return nil
}

func (r registrationRepository) DeactivateMemberTx(_ context.Context, params ports.DeactivateMemberParams) ([]domain.GroupingFact, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[params.UserID]
	if !ok || identity.TenantID != params.TenantID {
		return nil, domain.ErrNotFound
	}
	identity.IsActive = false
	identity.UpdatedAt = params.DeactivatedAt
	s.identities[identity.UserID] = identity

	var retracted []domain.GroupingFact
	for g := range s.groupings {
		if g.Subject == params.UserID && g.Tenant == params.TenantID {
			retracted = append(retracted, g)
			delete(s.groupings, g)
		}
	}
	s.outbox = append(s.outbox, outboxRow{event: params.Event})
	sortGroupings(retracted)
	return retracted, nil
}

func (r registrationRepository) CreateRoleTx(_ context.Context, params ports.CreateRoleParams) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[params.Role.TenantID]; !ok {
		return domain.ErrNotFound
	}
	key := roleKey{params.Role.TenantID, params.Role.Name}
	if _, exists := s.roles[key]; exists {
		return domain.ErrConflict
	}

	s.roles[key] = params.Role
	for _, p := range params.Permissions {
		s.permissions[p] = struct{}{}
	}
	s.outbox = append(s.outbox, outboxRow{event: params.Event})
	return nil
}

type policyRepository struct{ s *Store }

func (r policyRepository) AddGrouping(_ context.Context, fact domain.GroupingFact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.groupings[fact] = struct{}{}
	return nil
}

func (r policyRepository) AddPermission(_ context.Context, fact domain.PermissionFact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.permissions[fact] = struct{}{}
	return nil
}

func (r policyRepository) RemoveGrouping(_ context.Context, fact domain.GroupingFact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.groupings, fact)
	return nil
}

func (r policyRepository) RemovePermission(_ context.Context, fact domain.PermissionFact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.permissions, fact)
	return nil
}

func (r policyRepository) HasGrouping(_ context.Context, fact domain.GroupingFact) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.groupings[fact]
	return ok, nil
}

func (r policyRepository) RolesFor(_ context.Context, subject, tenant uuid.UUID) ([]domain.RoleName, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var roles []domain.RoleName
	for g := range r.s.groupings {
		if g.Subject == subject && g.Tenant == tenant {
			roles = append(roles, g.Role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, nil
}

func (r policyRepository) PermissionsFor(_ context.Context, roles []domain.RoleName, tenant uuid.UUID) ([]domain.PermissionFact, error) {
	wanted := make(map[domain.RoleName]struct{}, len(roles))
	for _, role := range roles {
		wanted[role] = struct{}{}
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.PermissionFact
	for p := range r.s.permissions {
		if _, ok := wanted[p.Role]; ok && p.Tenant == tenant {
			out = append(out, p)
		}
	}
	sortPermissions(out)
	return out, nil
}

func (r policyRepository) ListGroupings(context.Context) ([]domain.GroupingFact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.GroupingFact, 0, len(r.s.groupings))
	for g := range r.s.groupings {
		out = append(out, g)
	}
	sortGroupings(out)
	return out, nil
}

func (r policyRepository) ListPermissions(context.Context) ([]domain.PermissionFact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.PermissionFact, 0, len(r.s.permissions))
	for p := range r.s.permissions {
		out = append(out, p)
	}
	sortPermissions(out)
	return out, nil
}

func (r policyRepository) GetRole(_ context.Context, tenant uuid.UUID, name domain.RoleName) (domain.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	role, ok := r.s.roles[roleKey{tenant, name}]
	if !ok {
		return domain.Role{}, domain.ErrNotFound
	}
	return role, nil
}

func (r policyRepository) ListRoles(_ context.Context, tenant uuid.UUID) ([]domain.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Role
	for key, role := range r.s.roles {
		if key.tenant == tenant {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type outboxRepository struct{ s *Store }

func (r outboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	var out []ports.OutboxRecord
	for i := range r.s.outbox {
		row := &r.s.outbox[i]
		if row.publishedAt != nil || row.deadLettered {
			continue
		}
		if row.claimToken != "" && row.claimUntil.After(now) {
			continue
		}
		row.claimToken = claimToken
		row.claimUntil = claimUntil
		out = append(out, ports.OutboxRecord{
			OutboxID:     row.event.EventID,
			EventType:    row.event.EventType,
			PartitionKey: row.event.PartitionKey,
			Payload:      row.event.Payload,
			RetryCount:   row.retryCount,
			CreatedAt:    row.event.OccurredAt,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r outboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if row := r.s.claimed(outboxID, claimToken); row != nil {
		row.publishedAt = &at
		row.claimToken = ""
	}
	return nil
}

func (r outboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if row := r.s.claimed(outboxID, claimToken); row != nil {
		row.retryCount++
		row.lastError = errMsg
		row.claimToken = ""
	}
	return nil
}

func (r outboxRepository) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if row := r.s.claimed(outboxID, claimToken); row != nil {
		row.retryCount++
		row.lastError = errMsg
		row.deadLettered = true
		row.claimToken = ""
	}
	return nil
}

func (s *Store) claimed(outboxID uuid.UUID, claimToken string) *outboxRow {
	for i := range s.outbox {
		if s.outbox[i].event.EventID == outboxID && s.outbox[i].claimToken == claimToken {
			return &s.outbox[i]
		}
	}
	return nil
}

// OutboxEventTypes lists pending and published event types in write order.
func (s *Store) OutboxEventTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.outbox))
	for _, row := range s.outbox {
		out = append(out, row.event.EventType)
	}
	return out
}

// Counts reports row totals, used to assert that failed writes left nothing behind.
func (s *Store) Counts() (tenants, identities, groupings, permissions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants), len(s.identities), len(s.groupings), len(s.permissions)
}

func sortGroupings(gs []domain.GroupingFact) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].Tenant != gs[j].Tenant {
			return gs[i].Tenant.String() < gs[j].Tenant.String()
		}
		if gs[i].Subject != gs[j].Subject {
			return gs[i].Subject.String() < gs[j].Subject.String()
		}
		return gs[i].Role < gs[j].Role
	})
}

func sortPermissions(ps []domain.PermissionFact) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Tenant != b.Tenant {
			return a.Tenant.String() < b.Tenant.String()
		}
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		return a.Action < b.Action
	})
}
