package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// dummyPassword seeds the hash compared against when no stored hash exists,
// so unknown accounts cost the same as known ones.
const dummyPassword = "timing-equalizer-not-a-credential"

// BcryptHasher implements password hashing via bcrypt over a SHA-256 digest.
// The digest keeps inputs below bcrypt's 72-byte limit without truncation.
type BcryptHasher struct {
	cost  int
	slots *semaphore.Weighted
	dummy []byte
}

// NewBcryptHasher creates a bcrypt-based hasher. workers bounds how many
// hash operations run concurrently; zero means GOMAXPROCS.
func NewBcryptHasher(cost, workers int) *BcryptHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	dummy, err := bcrypt.GenerateFromPassword(prehash(dummyPassword), cost)
	if err != nil {
		// Only reachable with an out-of-range cost, which is clamped above.
		panic(err)
	}
	return &BcryptHasher{
		cost:  cost,
		slots: semaphore.NewWeighted(int64(workers)),
		dummy: dummy,
	}
}

func (h *BcryptHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.slots.Release(1)

	hashed, err := bcrypt.GenerateFromPassword(prehash(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether password matches hash. A malformed hash or a
// cancelled context is a mismatch.
func (h *BcryptHasher) Verify(ctx context.Context, password, hash string) bool {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.slots.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password)) == nil
}

// Burn performs a comparison against a fixed hash and discards the result.
func (h *BcryptHasher) Burn(ctx context.Context, password string) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return
	}
	defer h.slots.Release(1)

	_ = bcrypt.CompareHashAndPassword(h.dummy, prehash(password))
}

// Cost returns the configured work factor.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}
