package ports

import (
	"context"
	"time"
)

// TokenRevocationStore is the denylist consulted on every token validation.
// Entries only need to live until the token would have expired anyway.
type TokenRevocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// LockoutState is the failed-login bookkeeping for one normalized email.
type LockoutState struct {
	FailedCount int
	LockedUntil *time.Time
}

// Locked reports whether the lock is still in force at now.
func (s LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// LockoutStore tracks failed logins so repeated guessing is throttled.
type LockoutStore interface {
	Get(ctx context.Context, key string) (LockoutState, error)
	RecordFailure(ctx context.Context, key string, now time.Time, threshold int, lockoutWindow time.Duration) (LockoutState, error)
	Clear(ctx context.Context, key string) error
}
