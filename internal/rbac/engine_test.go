package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/observability"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

func newEngine(t *testing.T, opts ...Option) (*Engine, ports.PolicyRepository) {
	t.Helper()
	policies := memory.NewRepositories(memory.NewStore()).Policies
	engine, err := NewEngine(policies, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, policies
}

func mustEnforce(t *testing.T, e *Engine, subject, tenant uuid.UUID, resource, action string) bool {
	t.Helper()
	allowed, err := e.Enforce(context.Background(), subject, tenant, resource, action)
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	return allowed
}

func TestEngineAdminWildcardAllowsEverythingInOwnTenant(t *testing.T) {
	t.Parallel()

	engine, _ := newEngine(t)
	ctx := context.Background()
	owner, tenant, otherTenant := uuid.New(), uuid.New(), uuid.New()

	if err := engine.AddGroupings(ctx, domain.GroupingFact{Subject: owner, Role: domain.AdminRole, Tenant: tenant}); err != nil {
		t.Fatalf("add grouping: %v", err)
	}
	if err := engine.AddPermissions(ctx, domain.PermissionFact{Role: domain.AdminRole, Tenant: tenant, Resource: domain.MatchAnything, Action: domain.MatchAnything}); err != nil {
		t.Fatalf("add permission: %v", err)
	}

	if !mustEnforce(t, engine, owner, tenant, "patients", "delete") {
		t.Fatalf("admin must be allowed any action in own tenant")
	}
	if mustEnforce(t, engine, owner, otherTenant, "patients", "read") {
		t.Fatalf("admin of one tenant must not act in another")
	}
	if mustEnforce(t, engine, uuid.New(), tenant, "patients", "read") {
		t.Fatalf("subject without grouping must be denied")
	}
}

func TestEnginePatternsAreAnchored(t *testing.T) {
	t.Parallel()

	engine, _ := newEngine(t)
	ctx := context.Background()
	vet, tenant := uuid.New(), uuid.New()

	if err := engine.AddGroupings(ctx, domain.GroupingFact{Subject: vet, Role: "vet", Tenant: tenant}); err != nil {
		t.Fatalf("add grouping: %v", err)
	}
	if err := engine.AddPermissions(ctx, domain.PermissionFact{Role: "vet", Tenant: tenant, Resource: "pets", Action: "read|write"}); err != nil {
		t.Fatalf("add permission: %v", err)
	}

	cases := []struct {
		resource string
		action   string
		want     bool
	}{
		{"pets", "read", true},
		{"pets", "write", true},
		{"pets", "delete", false},
		{"pets-archive", "read", false},
		{"mypets", "read", false},
		{"pets", "reader", false},
	}
	for _, tc := range cases {
		if got := mustEnforce(t, engine, vet, tenant, tc.resource, tc.action); got != tc.want {
			t.Fatalf("enforce(%s, %s) = %v, want %v", tc.resource, tc.action, got, tc.want)
		}
	}
}

func TestEngineMultipleRolesAreOred(t *testing.T) {
	t.Parallel()

	engine, _ := newEngine(t)
	ctx := context.Background()
	subject, tenant := uuid.New(), uuid.New()

	if err := engine.AddGroupings(ctx,
		domain.GroupingFact{Subject: subject, Role: "reader", Tenant: tenant},
		domain.GroupingFact{Subject: subject, Role: "billing", Tenant: tenant},
	); err != nil {
		t.Fatalf("add groupings: %v", err)
	}
	if err := engine.AddPermissions(ctx,
		domain.PermissionFact{Role: "reader", Tenant: tenant, Resource: "records", Action: "read"},
		domain.PermissionFact{Role: "billing", Tenant: tenant, Resource: "invoices", Action: "*"},
	); err != nil {
		t.Fatalf("add permissions: %v", err)
	}

	if !mustEnforce(t, engine, subject, tenant, "records", "read") {
		t.Fatalf("expected reader grant to apply")
	}
	if !mustEnforce(t, engine, subject, tenant, "invoices", "void") {
		t.Fatalf("expected billing grant to apply")
	}
	if mustEnforce(t, engine, subject, tenant, "records", "write") {
		t.Fatalf("no grant covers records/write")
	}
}

func TestEngineLoadsExistingFactsAndReloads(t *testing.T) {
	t.Parallel()

	store := memory.NewRepositories(memory.NewStore()).Policies
	ctx := context.Background()
	subject, tenant := uuid.New(), uuid.New()
	grouping := domain.GroupingFact{Subject: subject, Role: "vet", Tenant: tenant}
	if err := store.AddGrouping(ctx, grouping); err != nil {
		t.Fatalf("seed grouping: %v", err)
	}
	if err := store.AddPermission(ctx, domain.PermissionFact{Role: "vet", Tenant: tenant, Resource: "pets", Action: "read"}); err != nil {
		t.Fatalf("seed permission: %v", err)
	}

	metrics := observability.NewMetrics()
	engine, err := NewEngine(store, WithMetrics(metrics))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if !mustEnforce(t, engine, subject, tenant, "pets", "read") {
		t.Fatalf("facts present at startup must be enforced")
	}

	if err := store.RemoveGrouping(ctx, grouping); err != nil {
		t.Fatalf("remove grouping: %v", err)
	}
	if !mustEnforce(t, engine, subject, tenant, "pets", "read") {
		t.Fatalf("view only changes on reload")
	}
	if err := engine.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if mustEnforce(t, engine, subject, tenant, "pets", "read") {
		t.Fatalf("retracted grouping must deny after reload")
	}
}

func TestEngineWritesAreDurable(t *testing.T) {
	t.Parallel()

	engine, store := newEngine(t)
	ctx := context.Background()
	fact := domain.GroupingFact{Subject: uuid.New(), Role: "vet", Tenant: uuid.New()}

	if err := engine.AddGroupings(ctx, fact, fact); err != nil {
		t.Fatalf("add grouping twice: %v", err)
	}
	ok, err := store.HasGrouping(ctx, fact)
	if err != nil || !ok {
		t.Fatalf("expected grouping persisted, ok=%v err=%v", ok, err)
	}
}

func TestEngineRejectsInvalidPermission(t *testing.T) {
	t.Parallel()

	engine, store := newEngine(t)
	err := engine.AddPermissions(context.Background(), domain.PermissionFact{Role: "vet", Tenant: uuid.New(), Resource: "pets(", Action: "read"})
	if err == nil {
		t.Fatalf("expected invalid pattern to be rejected")
	}
	all, _ := store.ListPermissions(context.Background())
	if len(all) != 0 {
		t.Fatalf("invalid permission must not be stored")
	}
}

func TestEngineNilIdentifiersDeny(t *testing.T) {
	t.Parallel()

	engine, _ := newEngine(t)
	if mustEnforce(t, engine, uuid.Nil, uuid.New(), "x", "y") {
		t.Fatalf("nil subject must deny")
	}
	if mustEnforce(t, engine, uuid.New(), uuid.Nil, "x", "y") {
		t.Fatalf("nil tenant must deny")
	}
}

func TestEngineLiteralMatcher(t *testing.T) {
	t.Parallel()

	engine, _ := newEngine(t, WithMatcher(LiteralMatcher{}))
	ctx := context.Background()
	subject, tenant := uuid.New(), uuid.New()
	if err := engine.AddGroupings(ctx, domain.GroupingFact{Subject: subject, Role: "vet", Tenant: tenant}); err != nil {
		t.Fatalf("add grouping: %v", err)
	}
	if err := engine.AddPermissions(ctx, domain.PermissionFact{Role: "vet", Tenant: tenant, Resource: "pets", Action: "read|write"}); err != nil {
		t.Fatalf("add permission: %v", err)
	}
	if mustEnforce(t, engine, subject, tenant, "pets", "read") {
		t.Fatalf("literal matcher must not interpret alternation")
	}
	if !mustEnforce(t, engine, subject, tenant, "pets", "read|write") {
		t.Fatalf("literal matcher must match exact text")
	}
}

func TestEngineConcurrentEnforceAndWrite(t *testing.T) {
	t.Parallel()

	engine, _ := newEngine(t)
	ctx := context.Background()
	tenant := uuid.New()
	if err := engine.AddPermissions(ctx, domain.PermissionFact{Role: "vet", Tenant: tenant, Resource: "pets", Action: "read"}); err != nil {
		t.Fatalf("add permission: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subject := uuid.New()
			if err := engine.AddGroupings(ctx, domain.GroupingFact{Subject: subject, Role: "vet", Tenant: tenant}); err != nil {
				t.Errorf("add grouping: %v", err)
				return
			}
			allowed, err := engine.Enforce(ctx, subject, tenant, "pets", "read")
			if err != nil || !allowed {
				t.Errorf("expected allow after write, allowed=%v err=%v", allowed, err)
			}
		}()
	}
	wg.Wait()
}

// pausingPolicyStore holds the next ListGroupings call open after it has read
// the store, leaving a window between a load's snapshot and its swap.
type pausingPolicyStore struct {
	ports.PolicyRepository

	mu      sync.Mutex
	paused  chan struct{}
	release chan struct{}
}

func (s *pausingPolicyStore) pauseNextLoad() (paused, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = make(chan struct{})
	s.release = make(chan struct{})
	return s.paused, s.release
}

func (s *pausingPolicyStore) ListGroupings(ctx context.Context) ([]domain.GroupingFact, error) {
	facts, err := s.PolicyRepository.ListGroupings(ctx)
	s.mu.Lock()
	paused, release := s.paused, s.release
	s.paused, s.release = nil, nil
	s.mu.Unlock()
	if paused != nil {
		close(paused)
		<-release
	}
	return facts, err
}

func TestEngineReloadDoesNotDiscardConcurrentWriteThrough(t *testing.T) {
	t.Parallel()

	store := &pausingPolicyStore{PolicyRepository: memory.NewRepositories(memory.NewStore()).Policies}
	engine, err := NewEngine(store)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()
	owner, tenant := uuid.New(), uuid.New()
	grouping := domain.GroupingFact{Subject: owner, Role: domain.AdminRole, Tenant: tenant}
	permission := domain.PermissionFact{Role: domain.AdminRole, Tenant: tenant, Resource: domain.MatchAnything, Action: domain.MatchAnything}

	paused, release := store.pauseNextLoad()
	reloaded := make(chan error, 1)
	go func() { reloaded <- engine.Reload(ctx) }()
	<-paused

	// Commit after the reload's snapshot, then write through as registration does.
	if err := store.AddGrouping(ctx, grouping); err != nil {
		t.Fatalf("commit grouping: %v", err)
	}
	if err := store.AddPermission(ctx, permission); err != nil {
		t.Fatalf("commit permission: %v", err)
	}
	written := make(chan error, 1)
	go func() {
		if err := engine.AddPermissions(ctx, permission); err != nil {
			written <- err
			return
		}
		written <- engine.AddGroupings(ctx, grouping)
	}()

	select {
	case err := <-written:
		close(release)
		t.Fatalf("write-through finished while a load was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	if err := <-reloaded; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := <-written; err != nil {
		t.Fatalf("write-through: %v", err)
	}
	if !mustEnforce(t, engine, owner, tenant, "tenants", "read") {
		t.Fatalf("grant committed during reload must stay enforced")
	}
}

func TestEngineRemoteUpdateReloadsView(t *testing.T) {
	t.Parallel()

	engine, policies := newEngine(t)
	ctx := context.Background()
	w := &recordingWatcher{}
	if err := engine.SetWatcher(w); err != nil {
		t.Fatalf("set watcher: %v", err)
	}

	subject, tenant := uuid.New(), uuid.New()
	if err := policies.AddGrouping(ctx, domain.GroupingFact{Subject: subject, Role: "vet", Tenant: tenant}); err != nil {
		t.Fatalf("add grouping: %v", err)
	}
	if err := policies.AddPermission(ctx, domain.PermissionFact{Role: "vet", Tenant: tenant, Resource: "pets", Action: "read"}); err != nil {
		t.Fatalf("add permission: %v", err)
	}
	if mustEnforce(t, engine, subject, tenant, "pets", "read") {
		t.Fatalf("facts written behind the engine must not be visible before a reload")
	}

	w.fire("other-replica")
	if !mustEnforce(t, engine, subject, tenant, "pets", "read") {
		t.Fatalf("remote update must reload the view")
	}
}

type recordingWatcher struct {
	mu       sync.Mutex
	callback func(string)
	updates  int
}

func (w *recordingWatcher) SetUpdateCallback(cb func(string)) error {
	w.mu.Lock()
	w.callback = cb
	w.mu.Unlock()
	return nil
}

func (w *recordingWatcher) Update() error {
	w.mu.Lock()
	w.updates++
	w.mu.Unlock()
	return nil
}

func (w *recordingWatcher) Close() {}

func (w *recordingWatcher) fire(sender string) {
	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()
	cb(sender)
}
