package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

var errSavePolicyUnsupported = errors.New("save policy is not supported; facts are written individually")

// policyAdapter bridges casbin's persistence hooks onto the policy repository.
// Casbin calls these without a context, so each call gets its own deadline.
type policyAdapter struct {
	store   ports.PolicyRepository
	timeout time.Duration
}

var _ persist.Adapter = (*policyAdapter)(nil)

func newPolicyAdapter(store ports.PolicyRepository, timeout time.Duration) *policyAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &policyAdapter{store: store, timeout: timeout}
}

func (a *policyAdapter) LoadPolicy(m model.Model) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	groupings, err := a.store.ListGroupings(ctx)
	if err != nil {
		return fmt.Errorf("list groupings: %w", err)
	}
	for _, g := range groupings {
		if err := persist.LoadPolicyArray(groupingRule(g), m); err != nil {
			return err
		}
	}

	permissions, err := a.store.ListPermissions(ctx)
	if err != nil {
		return fmt.Errorf("list permissions: %w", err)
	}
	for _, p := range permissions {
		if err := persist.LoadPolicyArray(permissionRule(p), m); err != nil {
			return err
		}
	}
	return nil
}

func (a *policyAdapter) SavePolicy(model.Model) error {
	return errSavePolicyUnsupported
}

func (a *policyAdapter) AddPolicy(sec, ptype string, rule []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	switch ptype {
	case "g":
		fact, err := parseGroupingRule(rule)
		if err != nil {
			return err
		}
		return a.store.AddGrouping(ctx, fact)
	case "p":
		fact, err := parsePermissionRule(rule)
		if err != nil {
			return err
		}
		return a.store.AddPermission(ctx, fact)
	default:
		return fmt.Errorf("unsupported policy type %q", ptype)
	}
}

func (a *policyAdapter) RemovePolicy(sec, ptype string, rule []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	switch ptype {
	case "g":
		fact, err := parseGroupingRule(rule)
		if err != nil {
			return err
		}
		return a.store.RemoveGrouping(ctx, fact)
	case "p":
		fact, err := parsePermissionRule(rule)
		if err != nil {
			return err
		}
		return a.store.RemovePermission(ctx, fact)
	default:
		return fmt.Errorf("unsupported policy type %q", ptype)
	}
}

func (a *policyAdapter) RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues ...string) error {
	return errors.New("filtered policy removal is not supported")
}

func groupingRule(g domain.GroupingFact) []string {
	return []string{"g", g.Subject.String(), g.Role.String(), g.Tenant.String()}
}

func permissionRule(p domain.PermissionFact) []string {
	return []string{"p", p.Role.String(), p.Tenant.String(), p.Resource, p.Action}
}

func parseGroupingRule(rule []string) (domain.GroupingFact, error) {
	if len(rule) != 3 {
		return domain.GroupingFact{}, fmt.Errorf("grouping rule needs 3 fields, got %d", len(rule))
	}
	subject, err := uuid.Parse(rule[0])
	if err != nil {
		return domain.GroupingFact{}, fmt.Errorf("grouping subject: %w", err)
	}
	role, err := domain.ParseRoleName(rule[1])
	if err != nil {
		return domain.GroupingFact{}, err
	}
	tenant, err := uuid.Parse(rule[2])
	if err != nil {
		return domain.GroupingFact{}, fmt.Errorf("grouping tenant: %w", err)
	}
	return domain.GroupingFact{Subject: subject, Role: role, Tenant: tenant}, nil
}

func parsePermissionRule(rule []string) (domain.PermissionFact, error) {
	if len(rule) != 4 {
		return domain.PermissionFact{}, fmt.Errorf("permission rule needs 4 fields, got %d", len(rule))
	}
	tenant, err := uuid.Parse(rule[1])
	if err != nil {
		return domain.PermissionFact{}, fmt.Errorf("permission tenant: %w", err)
	}
	fact := domain.PermissionFact{
		Role:     domain.RoleName(rule[0]),
		Tenant:   tenant,
		Resource: rule[2],
		Action:   rule[3],
	}
	if err := domain.ValidatePermission(fact); err != nil {
		return domain.PermissionFact{}, err
	}
	return fact, nil
}
