package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/observability"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

// Domain-scoped RBAC: a subject holds roles per tenant, roles hold
// (resource, action) patterns per tenant, and any matching grant allows.
const modelText = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub, r.dom) && r.dom == p.dom && patternMatch(r.obj, p.obj) && patternMatch(r.act, p.act)
`

// Engine answers enforcement queries from an in-process view of the policy
// store. Writes through AddGroupings/AddPermissions persist first and update
// the view before returning.
type Engine struct {
	enforcer *casbin.SyncedEnforcer
	matcher  Matcher
	logger   *slog.Logger
	metrics  *observability.Metrics

	adapterTimeout time.Duration

	// policyMu orders full loads against write-through so a load that read
	// the store before a commit cannot replace a fact added after it.
	policyMu sync.Mutex

	mu      sync.Mutex
	watcher persist.Watcher
}

var _ ports.Enforcer = (*Engine)(nil)

type Option func(*Engine)

// WithMatcher swaps the pattern semantics, e.g. LiteralMatcher.
func WithMatcher(m Matcher) Option {
	return func(e *Engine) {
		if m != nil {
			e.matcher = m
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithStoreTimeout bounds each policy store call made by the engine.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.adapterTimeout = d
	}
}

// NewEngine loads every fact from store and returns a ready engine.
func NewEngine(store ports.PolicyRepository, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("policy store is required")
	}
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.matcher == nil {
		m, err := NewRegexMatcher(defaultPatternCacheSize)
		if err != nil {
			return nil, err
		}
		e.matcher = m
	}

	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("parse rbac model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, newPolicyAdapter(store, e.adapterTimeout))
	if err != nil {
		return nil, fmt.Errorf("load rbac policy: %w", err)
	}
	enforcer.AddFunction("patternMatch", e.patternMatch)
	e.enforcer = enforcer
	return e, nil
}

func (e *Engine) patternMatch(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return false, fmt.Errorf("patternMatch expects 2 arguments, got %d", len(args))
	}
	candidate, ok1 := args[0].(string)
	pattern, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return false, nil
	}
	return e.matcher.Matches(pattern, candidate), nil
}

// Enforce reports whether subject may perform action on resource within
// tenant. Absence of roles or grants is a denial, not an error.
func (e *Engine) Enforce(ctx context.Context, subject, tenant uuid.UUID, resource, action string) (bool, error) {
	if subject == uuid.Nil || tenant == uuid.Nil {
		e.metrics.ObserveDecision("deny")
		return false, nil
	}
	allowed, err := e.enforcer.Enforce(subject.String(), tenant.String(), resource, action)
	if err != nil {
		e.metrics.ObserveDecision("error")
		e.logger.ErrorContext(ctx, "rbac enforce failed",
			"module", "rbac",
			"layer", "engine",
			"operation", "enforce",
			"outcome", "failure",
			"tenant_id", tenant.String(),
			"error", err.Error(),
		)
		return false, fmt.Errorf("enforce: %w", err)
	}
	if allowed {
		e.metrics.ObserveDecision("allow")
	} else {
		e.metrics.ObserveDecision("deny")
	}
	return allowed, nil
}

// AddGroupings persists each fact and makes it visible to Enforce. On failure
// the in-process view is rebuilt from the store before the error is returned.
func (e *Engine) AddGroupings(ctx context.Context, facts ...domain.GroupingFact) error {
	e.policyMu.Lock()
	defer e.policyMu.Unlock()
	for _, f := range facts {
		if _, err := e.enforcer.AddGroupingPolicy(f.Subject.String(), f.Role.String(), f.Tenant.String()); err != nil {
			return e.recoverFromWriteFailure(ctx, "add_grouping", err)
		}
	}
	return nil
}

// AddPermissions persists each fact and makes it visible to Enforce.
func (e *Engine) AddPermissions(ctx context.Context, facts ...domain.PermissionFact) error {
	for _, f := range facts {
		if err := domain.ValidatePermission(f); err != nil {
			return err
		}
	}
	e.policyMu.Lock()
	defer e.policyMu.Unlock()
	for _, f := range facts {
		if _, err := e.enforcer.AddPolicy(f.Role.String(), f.Tenant.String(), f.Resource, f.Action); err != nil {
			return e.recoverFromWriteFailure(ctx, "add_permission", err)
		}
	}
	return nil
}

// Reload rebuilds the in-process view from the store and tells other
// replicas to do the same.
func (e *Engine) Reload(ctx context.Context) error {
	e.policyMu.Lock()
	err := e.loadLocked()
	e.policyMu.Unlock()
	if err != nil {
		return err
	}
	e.broadcast(ctx, "reload")
	return nil
}

// loadLocked replaces the view with the store's facts. Callers hold policyMu.
func (e *Engine) loadLocked() error {
	if err := e.enforcer.LoadPolicy(); err != nil {
		e.metrics.ObserveReload("failure")
		return fmt.Errorf("reload rbac policy: %w", err)
	}
	e.metrics.ObserveReload("success")
	return nil
}

func (e *Engine) broadcast(ctx context.Context, operation string) {
	e.mu.Lock()
	w := e.watcher
	e.mu.Unlock()
	if w == nil {
		return
	}
	if err := w.Update(); err != nil {
		e.logger.WarnContext(ctx, "rbac policy change broadcast failed",
			"module", "rbac",
			"layer", "engine",
			"operation", operation,
			"outcome", "failure",
			"error", err.Error(),
		)
	}
}

// SetWatcher wires cross-replica invalidation. Remote updates trigger a
// local reload; local writes are broadcast.
func (e *Engine) SetWatcher(w persist.Watcher) error {
	if err := e.enforcer.SetWatcher(w); err != nil {
		return err
	}
	// Replace casbin's default callback so remote reloads take policyMu too.
	if err := w.SetUpdateCallback(e.onRemoteUpdate); err != nil {
		return err
	}
	e.mu.Lock()
	e.watcher = w
	e.mu.Unlock()
	return nil
}

func (e *Engine) onRemoteUpdate(string) {
	e.policyMu.Lock()
	err := e.loadLocked()
	e.policyMu.Unlock()
	if err != nil {
		e.logger.Error("rbac remote reload failed",
			"module", "rbac",
			"layer", "engine",
			"operation", "remote_reload",
			"outcome", "failure",
			"error", err.Error(),
		)
	}
}

// recoverFromWriteFailure runs with policyMu held.
func (e *Engine) recoverFromWriteFailure(ctx context.Context, operation string, cause error) error {
	e.logger.ErrorContext(ctx, "rbac policy write failed; reloading",
		"module", "rbac",
		"layer", "engine",
		"operation", operation,
		"outcome", "failure",
		"error", cause.Error(),
	)
	if err := e.loadLocked(); err != nil {
		return errors.Join(fmt.Errorf("%s: %w", operation, cause), err)
	}
	e.broadcast(ctx, operation)
	return fmt.Errorf("%s: %w", operation, cause)
}
