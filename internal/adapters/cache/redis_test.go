package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		mr.Close()
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func TestConnectAcceptsBareAddress(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	client, err := Connect(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := Connect(context.Background(), "redis://:bad:port/x"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTokenRevocationLifecycle(t *testing.T) {
	t.Parallel()

	client, mr := setupRedis(t)
	store := NewRedisTokenRevocationStore(client)
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "01HZX")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Fatalf("fresh token must not be revoked")
	}

	if err := store.Revoke(ctx, "01HZX", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err = store.IsRevoked(ctx, "01HZX")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatalf("expected token to be revoked")
	}

	mr.FastForward(2 * time.Hour)
	revoked, err = store.IsRevoked(ctx, "01HZX")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Fatalf("denylist entry must expire with the token")
	}
}

func TestTokenRevocationSkipsExpiredTokens(t *testing.T) {
	t.Parallel()

	client, mr := setupRedis(t)
	store := NewRedisTokenRevocationStore(client)

	if err := store.Revoke(context.Background(), "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if mr.Exists(revokedKeyPrefix + "old") {
		t.Fatalf("expired token should not be stored")
	}
}

func TestTokenRevocationFailsWhenRedisIsDown(t *testing.T) {
	t.Parallel()

	client, mr := setupRedis(t)
	store := NewRedisTokenRevocationStore(client)
	mr.Close()

	if _, err := store.IsRevoked(context.Background(), "x"); err == nil {
		t.Fatalf("expected error when redis is unreachable")
	}
}

func TestLockoutStoreLocksAtThreshold(t *testing.T) {
	t.Parallel()

	client, _ := setupRedis(t)
	store := NewRedisLockoutStore(client)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 2; i++ {
		state, err := store.RecordFailure(ctx, "owner@clinic.com", now, 3, 15*time.Minute)
		if err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if state.Locked(now) {
			t.Fatalf("locked too early after %d failures", i)
		}
	}
	state, err := store.RecordFailure(ctx, "owner@clinic.com", now, 3, 15*time.Minute)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if !state.Locked(now) {
		t.Fatalf("expected lock at threshold")
	}

	stored, err := store.Get(ctx, "owner@clinic.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.FailedCount != 3 || !stored.Locked(now) {
		t.Fatalf("unexpected stored state: %+v", stored)
	}
	if stored.Locked(now.Add(16 * time.Minute)) {
		t.Fatalf("lock must lapse after the window")
	}

	if err := store.Clear(ctx, "owner@clinic.com"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	cleared, err := store.Get(ctx, "owner@clinic.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cleared.FailedCount != 0 || cleared.LockedUntil != nil {
		t.Fatalf("expected cleared state, got %+v", cleared)
	}
}

func TestPolicyWatcherNotifiesOtherReplicasOnly(t *testing.T) {
	t.Parallel()

	client, _ := setupRedis(t)
	ctx := context.Background()

	first, err := NewPolicyWatcher(ctx, client, "test:policy", nil)
	if err != nil {
		t.Fatalf("first watcher: %v", err)
	}
	defer first.Close()
	second, err := NewPolicyWatcher(ctx, client, "test:policy", nil)
	if err != nil {
		t.Fatalf("second watcher: %v", err)
	}
	defer second.Close()

	selfNotified := make(chan string, 1)
	peerNotified := make(chan string, 1)
	_ = first.SetUpdateCallback(func(msg string) { selfNotified <- msg })
	_ = second.SetUpdateCallback(func(msg string) { peerNotified <- msg })

	if err := first.Update(); err != nil {
		t.Fatalf("update: %v", err)
	}

	select {
	case sender := <-peerNotified:
		if sender != first.instanceID {
			t.Fatalf("unexpected sender %q", sender)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("peer was not notified")
	}

	select {
	case <-selfNotified:
		t.Fatalf("watcher must ignore its own broadcast")
	case <-time.After(100 * time.Millisecond):
	}
}
