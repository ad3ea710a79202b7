//go:build integration

package device

import (
	"errors"
	"testing"
	"time"

	"github.com/newtron-network/newtauth/internal/testutil"
	"github.com/newtron-network/newtauth/pkg/util"
)

func TestRedisLocker(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	testutil.FlushDB(t)
	ctx := testutil.Context(t)

	a, err := NewRedisLocker(ctx, testutil.RedisAddr(), "run-a", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLocker: %v", err)
	}
	defer a.Close()
	b, err := NewRedisLocker(ctx, testutil.RedisAddr(), "run-b", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLocker: %v", err)
	}
	defer b.Close()

	if err := a.Acquire(ctx, "edge1"); err != nil {
		t.Fatalf("Acquire by a: %v", err)
	}
	if err := b.Acquire(ctx, "edge1"); !errors.Is(err, util.ErrDeviceLocked) {
		t.Errorf("Acquire by b = %v, want ErrDeviceLocked", err)
	}

	holder, acquired, err := b.Holder(ctx, "edge1")
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if holder != "run-a" || acquired.IsZero() {
		t.Errorf("holder = %q acquired = %v", holder, acquired)
	}
	if ttl := testutil.KeyTTL(t, lockKey("edge1")); ttl <= 0 || ttl > time.Minute {
		t.Errorf("lock TTL = %v", ttl)
	}

	if err := b.Release(ctx, "edge1"); err == nil {
		t.Error("Release by non-holder should fail")
	}
	if err := a.Release(ctx, "edge1"); err != nil {
		t.Fatalf("Release by a: %v", err)
	}
	if err := b.Acquire(ctx, "edge1"); err != nil {
		t.Errorf("Acquire after release: %v", err)
	}
	if err := b.Release(ctx, "edge1"); err != nil {
		t.Errorf("Release by b: %v", err)
	}
	// Releasing a missing lock is not an error.
	if err := a.Release(ctx, "edge1"); err != nil {
		t.Errorf("Release of missing lock: %v", err)
	}
}
