package cache

import (
	"context"
	"testing"
	"time"
)

// A nil *Cache is the "Redis unavailable or not configured" state per
// the optional-cache contract in DESIGN.md: every method must be a safe no-op
// instead of a nil pointer dereference, since the engines hold a *Cache
// field unconditionally.

func TestNilCacheGetProductionSnapshotIsAMiss(t *testing.T) {
	var c *Cache
	var target map[string]int
	if c.GetProductionSnapshot(context.Background(), "village-1", &target) {
		t.Fatalf("expected a nil cache to always report a miss")
	}
}

func TestNilCacheSetProductionSnapshotDoesNotPanic(t *testing.T) {
	var c *Cache
	c.SetProductionSnapshot(context.Background(), "village-1", map[string]int{"wood": 1}, time.Minute)
}

func TestNilCacheInvalidateProductionSnapshotDoesNotPanic(t *testing.T) {
	var c *Cache
	c.InvalidateProductionSnapshot(context.Background(), "village-1")
}

func TestNilCachePresenceTrackingIsANoOp(t *testing.T) {
	var c *Cache
	c.SetUserOnline(context.Background(), "user-1", time.Minute)
	c.SetUserOffline(context.Background(), "user-1")
	if c.IsUserOnline(context.Background(), "user-1") {
		t.Fatalf("expected a nil cache to always report a user offline")
	}
}

func TestNilCacheCloseDoesNotPanic(t *testing.T) {
	var c *Cache
	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}
}
