package security

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestBcryptHasherRoundTrip(t *testing.T) {
	t.Parallel()

	hasher := NewBcryptHasher(bcrypt.MinCost, 2)
	ctx := context.Background()

	cases := []struct {
		name     string
		password string
	}{
		{name: "ordinary", password: "strongpassword123"},
		{name: "unicode", password: "pässwörd-密码"},
		{name: "past bcrypt input limit", password: strings.Repeat("x", 500)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			hash, err := hasher.Hash(ctx, tc.password)
			if err != nil {
				t.Fatalf("hash: %v", err)
			}
			if hash == tc.password {
				t.Fatalf("hash must not equal plaintext")
			}
			if !hasher.Verify(ctx, tc.password, hash) {
				t.Fatalf("expected password to verify")
			}
			if hasher.Verify(ctx, tc.password+"!", hash) {
				t.Fatalf("expected altered password to fail")
			}
		})
	}
}

func TestBcryptHasherDistinguishesLongPasswordsSharingPrefix(t *testing.T) {
	t.Parallel()

	hasher := NewBcryptHasher(bcrypt.MinCost, 1)
	ctx := context.Background()
	prefix := strings.Repeat("a", 100)

	hash, err := hasher.Hash(ctx, prefix+"one")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hasher.Verify(ctx, prefix+"two", hash) {
		t.Fatalf("passwords differing after byte 72 must not match")
	}
}

func TestBcryptHasherSaltsEachHash(t *testing.T) {
	t.Parallel()

	hasher := NewBcryptHasher(bcrypt.MinCost, 1)
	ctx := context.Background()

	first, err := hasher.Hash(ctx, "strongpassword123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := hasher.Hash(ctx, "strongpassword123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct salted hashes")
	}
}

func TestBcryptHasherMalformedHashIsMismatch(t *testing.T) {
	t.Parallel()

	hasher := NewBcryptHasher(bcrypt.MinCost, 1)
	for _, hash := range []string{"", "not-a-hash", "$2a$04$short"} {
		if hasher.Verify(context.Background(), "strongpassword123", hash) {
			t.Fatalf("malformed hash %q must not verify", hash)
		}
	}
}

func TestBcryptHasherHonoursCancellation(t *testing.T) {
	t.Parallel()

	hasher := NewBcryptHasher(bcrypt.MinCost, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := hasher.Hash(ctx, "strongpassword123"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBcryptHasherClampsCost(t *testing.T) {
	t.Parallel()

	if got := NewBcryptHasher(0, 1).Cost(); got != bcrypt.DefaultCost {
		t.Fatalf("expected default cost, got %d", got)
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newTestIssuer(t *testing.T, ttl time.Duration, now func() time.Time) *JWTIssuer {
	t.Helper()
	issuer, err := NewJWTIssuer(testSecret, "tenant-access", ttl)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer.WithClock(now)
}

func TestJWTIssuerRoundTrip(t *testing.T) {
	t.Parallel()

	issuedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, time.Hour, fixedClock(issuedAt))
	subject := ports.TokenSubject{UserID: uuid.New(), Email: "owner@clinic.com", TenantID: uuid.New()}

	issued, err := issuer.Issue(subject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := issuer.Validate(issued.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != subject.UserID || claims.TenantID != subject.TenantID || claims.Email != subject.Email {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.TokenID == "" || claims.TokenID != issued.Claims.TokenID {
		t.Fatalf("expected stable token id, got %q vs %q", claims.TokenID, issued.Claims.TokenID)
	}
	if !claims.ExpiresAt.Equal(issuedAt.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %s", claims.ExpiresAt)
	}
}

func TestJWTIssuerExpiryBoundary(t *testing.T) {
	t.Parallel()

	issuedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := issuedAt
	issuer := newTestIssuer(t, time.Minute, func() time.Time { return now })

	issued, err := issuer.Issue(ports.TokenSubject{UserID: uuid.New(), TenantID: uuid.New()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = issuedAt.Add(time.Minute - time.Second)
	if _, err := issuer.Validate(issued.Token); err != nil {
		t.Fatalf("expected token valid one second before expiry, got %v", err)
	}

	now = issuedAt.Add(time.Minute)
	if _, err := issuer.Validate(issued.Token); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected token expiring exactly now to be invalid, got %v", err)
	}
}

func TestJWTIssuerSubSecondIssueKeepsFullLifetime(t *testing.T) {
	t.Parallel()

	issuedAt := time.Date(2026, 3, 1, 10, 0, 0, 600_000_000, time.UTC)
	now := issuedAt
	issuer := newTestIssuer(t, time.Minute, func() time.Time { return now })

	issued, err := issuer.Issue(ports.TokenSubject{UserID: uuid.New(), TenantID: uuid.New()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Claims.ExpiresAt.Sub(issuedAt) < time.Minute {
		t.Fatalf("expiry %s is shorter than ttl after %s", issued.Claims.ExpiresAt, issuedAt)
	}

	now = issuedAt.Add(time.Minute - time.Millisecond)
	if _, err := issuer.Validate(issued.Token); err != nil {
		t.Fatalf("expected token valid just before ttl elapsed, got %v", err)
	}
	now = issued.Claims.ExpiresAt
	if _, err := issuer.Validate(issued.Token); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected token invalid at its expiry, got %v", err)
	}
}

func TestJWTIssuerRejectsTamperedAndForeignTokens(t *testing.T) {
	t.Parallel()

	issuedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, time.Hour, fixedClock(issuedAt))
	issued, err := issuer.Issue(ports.TokenSubject{UserID: uuid.New(), TenantID: uuid.New()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tampered := []byte(issued.Token)
	idx := len(tampered) - 10
	if tampered[idx] == 'A' {
		tampered[idx] = 'B'
	} else {
		tampered[idx] = 'A'
	}

	other, err := NewJWTIssuer(strings.Repeat("z", 32), "tenant-access", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	foreign, err := other.WithClock(fixedClock(issuedAt)).Issue(ports.TokenSubject{UserID: uuid.New(), TenantID: uuid.New()})
	if err != nil {
		t.Fatalf("issue foreign: %v", err)
	}

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub":       uuid.NewString(),
		"tenant_id": uuid.NewString(),
		"jti":       "x",
		"iss":       "tenant-access",
		"exp":       issuedAt.Add(time.Hour).Unix(),
	})
	wrongAlg, err := hs512.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}

	cases := map[string]string{
		"tampered signature": string(tampered),
		"foreign secret":     foreign.Token,
		"wrong algorithm":    wrongAlg,
		"garbage":            "not.a.token",
		"empty":              "",
	}
	for name, raw := range cases {
		if _, err := issuer.Validate(raw); !errors.Is(err, domain.ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewJWTIssuerRejectsWeakSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewJWTIssuer("short", "", time.Hour); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	if _, err := NewJWTIssuer(testSecret, "", 0); err == nil {
		t.Fatalf("expected non-positive ttl to be rejected")
	}
}
