package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, ttl), mr
}

func TestRedisLocker_ExclusivePerOrganization(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()

	first, err := locker.TryAcquire(ctx, "org-1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := locker.TryAcquire(ctx, "org-1"); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}

	other, err := locker.TryAcquire(ctx, "org-2")
	if err != nil {
		t.Fatalf("other organization should not be blocked: %v", err)
	}
	_ = other.Release(ctx)

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := locker.TryAcquire(ctx, "org-1")
	if err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
	_ = again.Release(ctx)
}

func TestRedisLocker_ReleaseDoesNotStealForeignLease(t *testing.T) {
	locker, mr := newTestLocker(t, time.Minute)
	ctx := context.Background()

	stale, err := locker.TryAcquire(ctx, "org-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Simulate expiry followed by another pass taking over.
	mr.FastForward(2 * time.Minute)
	fresh, err := locker.TryAcquire(ctx, "org-1")
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}

	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !mr.Exists(Key("org-1")) {
		t.Fatal("stale owner must not delete the new owner's lease")
	}
	_ = fresh.Release(ctx)
	if mr.Exists(Key("org-1")) {
		t.Fatal("expected lease to be released")
	}
}

func TestRedisLocker_TTLApplied(t *testing.T) {
	locker, mr := newTestLocker(t, 90*time.Second)

	if _, err := locker.TryAcquire(context.Background(), "org-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ttl := mr.TTL(Key("org-1")); ttl != 90*time.Second {
		t.Fatalf("expected 90s ttl, got %v", ttl)
	}
}

func TestRedisLocker_Unavailable(t *testing.T) {
	locker, mr := newTestLocker(t, time.Minute)
	mr.Close()

	_, err := locker.TryAcquire(context.Background(), "org-1")
	if err == nil || errors.Is(err, ErrHeld) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestNoop(t *testing.T) {
	l, err := Noop{}.TryAcquire(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Release(context.Background()); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
}
