// Package cache wraps redis/go-redis/v9 for the two ambient concerns
// that sit in front of the Persistent Store: a short-TTL production
// snapshot cache absorbing read bursts between Resource Engine accrual
// ticks, and per-user online/offline presence tracked by the Session
// Gateway.
//
// Grounded on the reference's services/redis_service.go client setup and
// its "store with TTL" / "online set" key patterns, narrowed to just
// these two concerns — the reference's session/notification/queue/pubsub
// helpers have no SPEC_FULL component left to serve now that chat,
// research, and notifications are out of scope.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const onlineSetKey = "users:online"

// Options mirrors the reference's Redis config block.
type Options struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// Cache is a thin Redis client. A nil *Cache is valid and makes every
// method a no-op miss, matching the reference's "Redis opcional" startup
// behavior: the game keeps working, just without the read-burst cache or
// presence tracking.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

func Connect(ctx context.Context, opts Options, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolTimeout:  opts.PoolTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Cache{client: client, logger: logger}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// GetProductionSnapshot decodes villageID's cached snapshot into target
// and reports whether it did; false on a miss, a decode failure, or when
// the cache is unavailable.
func (c *Cache) GetProductionSnapshot(ctx context.Context, villageID string, target any) bool {
	if c == nil {
		return false
	}
	key := fmt.Sprintf("village:production:%s", villageID)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(data), target) == nil
}

// SetProductionSnapshot caches a village's computed production rates for
// ttl, short enough that a completed building upgrade is never stale for
// long.
func (c *Cache) SetProductionSnapshot(ctx context.Context, villageID string, snapshot any, ttl time.Duration) {
	if c == nil {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	key := fmt.Sprintf("village:production:%s", villageID)
	if err := c.client.SetEx(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Debug("production snapshot cache write failed", zap.String("village_id", villageID), zap.Error(err))
	}
}

// InvalidateProductionSnapshot drops a village's cached snapshot, called
// whenever the Building Engine changes a production-affecting structure.
func (c *Cache) InvalidateProductionSnapshot(ctx context.Context, villageID string) {
	if c == nil {
		return
	}
	key := fmt.Sprintf("village:production:%s", villageID)
	c.client.Del(ctx, key)
}

// SetUserOnline marks userID online for presenceTTL, refreshed on every
// Session Gateway keepalive.
func (c *Cache) SetUserOnline(ctx context.Context, userID string, presenceTTL time.Duration) {
	if c == nil {
		return
	}
	key := fmt.Sprintf("user:online:%s", userID)
	if err := c.client.SetEx(ctx, key, time.Now().Unix(), presenceTTL).Err(); err != nil {
		c.logger.Debug("presence write failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	c.client.SAdd(ctx, onlineSetKey, userID)
}

// SetUserOffline clears userID's presence immediately, called whenever
// one of its Session Gateway connections closes, even if other
// connections for the same user are still open.
func (c *Cache) SetUserOffline(ctx context.Context, userID string) {
	if c == nil {
		return
	}
	key := fmt.Sprintf("user:online:%s", userID)
	c.client.Del(ctx, key)
	c.client.SRem(ctx, onlineSetKey, userID)
}

// IsUserOnline reports whether userID has unexpired presence.
func (c *Cache) IsUserOnline(ctx context.Context, userID string) bool {
	if c == nil {
		return false
	}
	key := fmt.Sprintf("user:online:%s", userID)
	n, err := c.client.Exists(ctx, key).Result()
	return err == nil && n > 0
}
