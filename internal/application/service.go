package application

import (
	"time"

	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/observability"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

type Service struct {
	cfg          Config
	identities   ports.IdentityRepository
	tenants      ports.TenantRepository
	registration ports.RegistrationRepository
	policies     ports.PolicyRepository
	enforcer     ports.Enforcer
	lockouts     ports.LockoutStore
	revocations  ports.TokenRevocationStore
	hasher       ports.PasswordHasher
	tokens       ports.TokenIssuer
	metrics      *observability.Metrics
	nowFn        func() time.Time
}

type Dependencies struct {
	Config       Config
	Identities   ports.IdentityRepository
	Tenants      ports.TenantRepository
	Registration ports.RegistrationRepository
	Policies     ports.PolicyRepository
	Enforcer     ports.Enforcer
	Lockouts     ports.LockoutStore
	Revocations  ports.TokenRevocationStore
	Hasher       ports.PasswordHasher
	Tokens       ports.TokenIssuer
	Metrics      *observability.Metrics
	// Now overrides the clock; nil means wall-clock UTC.
	Now func() time.Time
}

func NewService(deps Dependencies) *Service {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		cfg:          deps.Config,
		identities:   deps.Identities,
		tenants:      deps.Tenants,
		registration: deps.Registration,
		policies:     deps.Policies,
		enforcer:     deps.Enforcer,
		lockouts:     deps.Lockouts,
		revocations:  deps.Revocations,
		hasher:       deps.Hasher,
		tokens:       deps.Tokens,
		metrics:      deps.Metrics,
		nowFn:        now,
	}
}
