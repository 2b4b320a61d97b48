package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PasswordHasher turns plaintext into a storable hash and verifies against it.
// Verify never errors: a malformed stored hash is simply a mismatch.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, hash string) bool
	// Burn spends one comparison's worth of work without a stored hash.
	Burn(ctx context.Context, password string)
}

// TokenSubject is the identity a token is issued for.
type TokenSubject struct {
	UserID   uuid.UUID
	Email    string
	TenantID uuid.UUID
}

// AuthClaims is the validated content of a bearer token.
type AuthClaims struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	TenantID  uuid.UUID `json:"tenant_id"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssuedToken pairs the signed token with the claims it carries.
type IssuedToken struct {
	Token  string
	Claims AuthClaims
}

// TokenIssuer signs and validates stateless bearer tokens.
type TokenIssuer interface {
	Issue(subject TokenSubject) (IssuedToken, error)
	Validate(raw string) (AuthClaims, error)
	TTL() time.Duration
}
