package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

const minSecretLength = 32

// JWTIssuer implements HS256 access tokens. The algorithm is fixed at
// construction; tokens naming any other algorithm are rejected.
type JWTIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTIssuer builds an issuer from a shared secret and a fixed lifetime.
func NewJWTIssuer(secret, issuer string, ttl time.Duration) (*JWTIssuer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLength)
	}
	if ttl <= 0 {
		return nil, errors.New("jwt ttl must be positive")
	}
	return &JWTIssuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock replaces the time source used for iat/exp and validation.
func (i *JWTIssuer) WithClock(now func() time.Time) *JWTIssuer {
	if now != nil {
		i.now = now
	}
	return i
}

func (i *JWTIssuer) TTL() time.Duration {
	return i.ttl
}

type accessClaims struct {
	Email    string `json:"email"`
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

func (i *JWTIssuer) Issue(subject ports.TokenSubject) (ports.IssuedToken, error) {
	if subject.UserID == uuid.Nil {
		return ports.IssuedToken{}, errors.New("token subject is required")
	}
	// NumericDate keeps whole seconds: iat rounds down and exp rounds up, so a
	// token never lives shorter than ttl.
	now := i.now().UTC()
	issuedAt := now.Truncate(time.Second)
	expiresAt := now.Add(i.ttl)
	if rounded := expiresAt.Truncate(time.Second); !rounded.Equal(expiresAt) {
		expiresAt = rounded.Add(time.Second)
	}

	tokenID, err := ulid.New(ulid.Timestamp(issuedAt), rand.Reader)
	if err != nil {
		return ports.IssuedToken{}, fmt.Errorf("generate token id: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Email:    subject.Email,
		TenantID: subject.TenantID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.UserID.String(),
			Issuer:    i.issuer,
			ID:        tokenID.String(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return ports.IssuedToken{}, err
	}

	return ports.IssuedToken{
		Token: signed,
		Claims: ports.AuthClaims{
			UserID:    subject.UserID,
			Email:     subject.Email,
			TenantID:  subject.TenantID,
			TokenID:   tokenID.String(),
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
	}, nil
}

// Validate verifies signature and expiry with no leeway. Every failure is
// reported as domain.ErrInvalidToken.
func (i *JWTIssuer) Validate(raw string) (ports.AuthClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	parsed, err := jwt.ParseWithClaims(raw, &accessClaims{}, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return ports.AuthClaims{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return ports.AuthClaims{}, domain.ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ports.AuthClaims{}, fmt.Errorf("%w: parse sub: %v", domain.ErrInvalidToken, err)
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return ports.AuthClaims{}, fmt.Errorf("%w: parse tenant_id: %v", domain.ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return ports.AuthClaims{}, fmt.Errorf("%w: missing jti", domain.ErrInvalidToken)
	}

	out := ports.AuthClaims{
		UserID:    userID,
		Email:     claims.Email,
		TenantID:  tenantID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return out, nil
}
