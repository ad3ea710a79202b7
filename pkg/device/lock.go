package device

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/newtauth/pkg/util"
)

// Locker guarantees at most one migration session per device, including
// across separate operator runs.
type Locker interface {
	Acquire(ctx context.Context, device string) error
	Release(ctx context.Context, device string) error
}

// NopLocker performs no locking. Within one run the orchestrator already
// dispatches each device once.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string) error { return nil }
func (NopLocker) Release(context.Context, string) error { return nil }

// acquireLockScript is a Lua script for atomic lock acquisition.
// Returns 1 on success, 0 if already locked by another holder.
var acquireLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
	return 0
end
redis.call("HSET", key, "holder", ARGV[1], "acquired", ARGV[2], "ttl", ARGV[3])
redis.call("EXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// releaseLockScript is a Lua script for atomic lock release with holder verification.
// Returns 1 on success, 0 if holder mismatch, -1 if key doesn't exist.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
	return -1
end
local current = redis.call("HGET", key, "holder")
if current ~= ARGV[1] then
	return 0
end
redis.call("DEL", key)
return 1
`)

// RedisLocker stores per-device locks in Redis as NEWTAUTH_LOCK|<device>
// hashes with holder, acquired time, and TTL.
type RedisLocker struct {
	client *redis.Client
	holder string
	ttl    time.Duration
}

// NewRedisLocker connects to the Redis server at addr. holder identifies
// this run in lock records.
func NewRedisLocker(ctx context.Context, addr, holder string, ttl time.Duration) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to lock server %s: %w", addr, err)
	}
	return &RedisLocker{client: client, holder: holder, ttl: ttl}, nil
}

func lockKey(device string) string {
	return fmt.Sprintf("NEWTAUTH_LOCK|%s", device)
}

// Acquire takes the lock for device. Returns util.ErrDeviceLocked if another
// holder has it.
func (l *RedisLocker) Acquire(ctx context.Context, device string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	ttl := int(l.ttl.Seconds())
	if ttl < 1 {
		ttl = 1
	}

	result, err := acquireLockScript.Run(ctx, l.client, []string{lockKey(device)},
		l.holder, now, fmt.Sprintf("%d", ttl)).Int()
	if err != nil {
		return fmt.Errorf("acquiring lock for %s: %w", device, err)
	}
	if result == 0 {
		holder, _, _ := l.Holder(ctx, device)
		return fmt.Errorf("%s held by %q: %w", device, holder, util.ErrDeviceLocked)
	}
	return nil
}

// Release drops the lock for device if this holder owns it.
func (l *RedisLocker) Release(ctx context.Context, device string) error {
	result, err := releaseLockScript.Run(ctx, l.client, []string{lockKey(device)}, l.holder).Int()
	if err != nil {
		return fmt.Errorf("releasing lock for %s: %w", device, err)
	}
	switch result {
	case 0:
		return fmt.Errorf("lock holder mismatch for %s", device)
	case -1:
		return nil // expired or never taken
	}
	return nil
}

// Holder returns the current lock holder and acquisition time for device.
// Returns ("", zero, nil) if no lock is held.
func (l *RedisLocker) Holder(ctx context.Context, device string) (string, time.Time, error) {
	vals, err := l.client.HGetAll(ctx, lockKey(device)).Result()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("getting lock holder for %s: %w", device, err)
	}
	if len(vals) == 0 {
		return "", time.Time{}, nil
	}

	acquired := time.Time{}
	if ts, ok := vals["acquired"]; ok {
		acquired, _ = time.Parse(time.RFC3339, ts)
	}
	return vals["holder"], acquired, nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
