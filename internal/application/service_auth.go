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

// Register creates a tenant, its first identity, the tenant's admin role and
// the grant that makes that identity administrator of everything in the
// tenant. All rows commit together or not at all.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return RegisterResponse{}, err
	}
	if err := domain.ValidatePassword(req.Password); err != nil {
		return RegisterResponse{}, err
	}
	if err := domain.ValidateTenantName(req.TenantName); err != nil {
		return RegisterResponse{}, err
	}
	if err := domain.ValidateFullName(req.FullName); err != nil {
		return RegisterResponse{}, err
	}

	// Cheap early exit; the unique index still decides races.
	if _, err := s.identities.GetByEmail(ctx, email); err == nil {
		return RegisterResponse{}, fmt.Errorf("%w: email already registered", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return RegisterResponse{}, fmt.Errorf("lookup email: %w", err)
	}

	passwordHash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return RegisterResponse{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.nowFn()
	tenant := domain.Tenant{
		TenantID:  uuid.New(),
		Name:      strings.TrimSpace(req.TenantName),
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := domain.Identity{
		UserID:       uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     strings.TrimSpace(req.FullName),
		IsActive:     true,
		TenantID:     tenant.TenantID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	role := domain.Role{
		RoleID:      uuid.New(),
		TenantID:    tenant.TenantID,
		Name:        domain.AdminRole,
		Description: "Full access to every resource in the tenant",
		CreatedAt:   now,
	}
	grouping := domain.GroupingFact{Subject: identity.UserID, Role: domain.AdminRole, Tenant: tenant.TenantID}
	permission := domain.PermissionFact{
		Role:     domain.AdminRole,
		Tenant:   tenant.TenantID,
		Resource: domain.MatchAnything,
		Action:   domain.MatchAnything,
	}

	err = s.registration.RegisterTenantOwnerTx(ctx, ports.RegisterTenantOwnerParams{
		Tenant:     tenant,
		Identity:   identity,
		Role:       role,
		Grouping:   grouping,
		Permission: permission,
		Event: newOutboxEvent(EventTenantRegistered, tenant.TenantID.String(), now, map[string]any{
			"tenant_id":   tenant.TenantID,
			"tenant_name": tenant.Name,
			"user_id":     identity.UserID,
			"email":       identity.Email,
			"role":        role.Name,
		}),
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return RegisterResponse{}, fmt.Errorf("%w: email already registered", domain.ErrConflict)
		}
		return RegisterResponse{}, fmt.Errorf("register tenant: %w", err)
	}

	s.syncPolicy(ctx, "register", []domain.GroupingFact{grouping}, []domain.PermissionFact{permission})
	s.logInfo(ctx, "tenant registered", "register",
		"tenant_id", tenant.TenantID.String(),
		"user_id", identity.UserID.String(),
	)

	return RegisterResponse{
		UserView: toUserView(identity, []domain.RoleName{domain.AdminRole}),
		Role:     role.Name.String(),
		RoleID:   role.RoleID,
	}, nil
}

// Login exchanges credentials for a bearer token. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		s.hasher.Burn(ctx, req.Password)
		s.metrics.ObserveLogin("invalid_credentials")
		return LoginResponse{}, domain.ErrInvalidCredentials
	}

	key := lockoutKey(email)
	if s.lockouts != nil {
		state, err := s.lockouts.Get(ctx, key)
		if err == nil && state.Locked(s.nowFn()) {
			s.metrics.ObserveLogin("locked")
			s.logWarn(ctx, "account lockout active", "login", "locked_until", state.LockedUntil)
			return LoginResponse{}, domain.ErrAccountLocked
		}
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return LoginResponse{}, fmt.Errorf("load identity: %w", err)
		}
		s.hasher.Burn(ctx, req.Password)
		s.recordLoginFailure(ctx, key)
		return LoginResponse{}, domain.ErrInvalidCredentials
	}

	if !s.hasher.Verify(ctx, req.Password, identity.PasswordHash) {
		if err := ctx.Err(); err != nil {
			return LoginResponse{}, err
		}
		s.recordLoginFailure(ctx, key)
		return LoginResponse{}, domain.ErrInvalidCredentials
	}

	// Only reported once the password is proven, so it reveals nothing to a guesser.
	if !identity.IsActive {
		s.metrics.ObserveLogin("inactive")
		return LoginResponse{}, domain.ErrAccountInactive
	}

	if s.lockouts != nil {
		_ = s.lockouts.Clear(ctx, key)
	}

	issued, err := s.tokens.Issue(ports.TokenSubject{
		UserID:   identity.UserID,
		Email:    identity.Email,
		TenantID: identity.TenantID,
	})
	if err != nil {
		return LoginResponse{}, fmt.Errorf("issue token: %w", err)
	}

	s.metrics.ObserveLogin("success")
	s.logInfo(ctx, "login succeeded", "login",
		"user_id", identity.UserID.String(),
		"tenant_id", identity.TenantID.String(),
		"ip_address", req.IPAddress,
	)
	return LoginResponse{
		AccessToken: issued.Token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
		ExpiresAt:   issued.Claims.ExpiresAt,
	}, nil
}

func (s *Service) recordLoginFailure(ctx context.Context, key string) {
	s.metrics.ObserveLogin("invalid_credentials")
	if s.lockouts == nil {
		return
	}
	state, err := s.lockouts.RecordFailure(ctx, key, s.nowFn(), s.cfg.FailedLoginThreshold, s.cfg.LockoutDuration)
	if err != nil {
		s.logWarn(ctx, "failed to update lockout state", "login", "error", err)
		return
	}
	if state.LockedUntil != nil {
		s.logWarn(ctx, "account locked after repeated failures", "login",
			"failed_count", state.FailedCount,
			"locked_until", state.LockedUntil,
		)
	}
}

// ValidateToken verifies a bearer token and checks it against the denylist.
// A denylist that cannot be consulted rejects the token.
func (s *Service) ValidateToken(ctx context.Context, raw string) (ports.AuthClaims, error) {
	claims, err := s.tokens.Validate(raw)
	if err != nil {
		return ports.AuthClaims{}, err
	}
	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.TokenID)
		if err != nil {
			s.logWarn(ctx, "revocation lookup failed; rejecting token", "validate_token", "error", err)
			return ports.AuthClaims{}, fmt.Errorf("%w: revocation status unavailable", domain.ErrInvalidToken)
		}
		if revoked {
			return ports.AuthClaims{}, fmt.Errorf("%w: token revoked", domain.ErrInvalidToken)
		}
	}
	return claims, nil
}

// ResolvePrincipal turns a bearer token into a live identity. Missing,
// inactive or re-homed identities are all unauthorized.
func (s *Service) ResolvePrincipal(ctx context.Context, raw string) (Principal, error) {
	claims, err := s.ValidateToken(ctx, raw)
	if err != nil {
		return Principal{}, err
	}
	identity, err := s.identities.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Principal{}, domain.ErrUnauthorized
		}
		return Principal{}, fmt.Errorf("load identity: %w", err)
	}
	if !identity.IsActive || identity.TenantID != claims.TenantID {
		return Principal{}, domain.ErrUnauthorized
	}
	return Principal{Identity: identity, Claims: claims}, nil
}

// Logout denylists the presented token until it would have expired.
func (s *Service) Logout(ctx context.Context, principal Principal) error {
	if s.revocations == nil {
		return errors.New("token revocation is not configured")
	}
	if err := s.revocations.Revoke(ctx, principal.Claims.TokenID, principal.Claims.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.logInfo(ctx, "token revoked", "logout", "user_id", principal.Identity.UserID.String())
	return nil
}

// Me returns the caller's identity and roles within its tenant.
func (s *Service) Me(ctx context.Context, principal Principal) (UserView, error) {
	roles, err := s.policies.RolesFor(ctx, principal.Identity.UserID, principal.Identity.TenantID)
	if err != nil {
		return UserView{}, fmt.Errorf("load roles: %w", err)
	}
	return toUserView(principal.Identity, roles), nil
}
