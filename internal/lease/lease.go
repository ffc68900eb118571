// Package lease provides per-organization mutual exclusion across overlapping
// recharge passes.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrHeld means another pass currently holds the organization's lease.
var ErrHeld = errors.New("lease held by another owner")

const keyPrefix = "recharge:lease:"

// Locker hands out per-organization leases.
type Locker interface {
	TryAcquire(ctx context.Context, orgID string) (*Lease, error)
}

// Lease is a held lock. Release is safe to call on a zero or Noop lease.
type Lease struct {
	client goredis.UniversalClient
	key    string
	token  string
}

var releaseScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// Release drops the lease if this owner still holds it.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

func NewRedisLocker(client goredis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func Key(orgID string) string {
	return keyPrefix + orgID
}

func (r *RedisLocker) TryAcquire(ctx context.Context, orgID string) (*Lease, error) {
	key := Key(orgID)
	token := uuid.New().String()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{client: r.client, key: key, token: token}, nil
}

// Noop grants every lease. Used when no Redis is configured; overlapping passes
// then rely on gateway idempotency keys alone.
type Noop struct{}

func (Noop) TryAcquire(context.Context, string) (*Lease, error) {
	return &Lease{}, nil
}
