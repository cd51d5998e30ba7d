package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RoleCache keeps resolved role sets in Redis for a short TTL so busy staff
// sessions don't hit the store on every request. A miss or Redis outage falls
// back to the database; the cache is never authoritative.
type RoleCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRoleCacheFromEnv connects to Redis when REDIS_HOST is configured.
// Returns nil (cache disabled) otherwise, or when the ping fails.
func NewRoleCacheFromEnv() *RoleCache {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		return nil
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unavailable, role cache disabled")
		return nil
	}

	ttl := 30 * time.Second
	if raw := os.Getenv("ROLE_CACHE_TTL_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
	}

	log.Info("✅ Role cache connected to Redis")
	return &RoleCache{client: client, ttl: ttl}
}

func (rc *RoleCache) key(userID uint) string {
	return fmt.Sprintf("nestora:roles:%d", userID)
}

// Get returns the cached role set and whether it was present.
func (rc *RoleCache) Get(ctx context.Context, userID uint) ([]string, bool) {
	raw, err := rc.client.Get(ctx, rc.key(userID)).Result()
	if err != nil {
		return nil, false
	}
	var roles []string
	if err := json.Unmarshal([]byte(raw), &roles); err != nil {
		return nil, false
	}
	return roles, true
}

// Set stores the role set with the configured TTL. Failures are logged and
// swallowed.
func (rc *RoleCache) Set(ctx context.Context, userID uint, roles []string) {
	raw, err := json.Marshal(roles)
	if err != nil {
		return
	}
	if err := rc.client.Set(ctx, rc.key(userID), raw, rc.ttl).Err(); err != nil {
		log.WithError(err).Debug("role cache set failed")
	}
}

// Invalidate drops the cached role set, used after a role mutation.
func (rc *RoleCache) Invalidate(ctx context.Context, userID uint) {
	if rc == nil {
		return
	}
	if err := rc.client.Del(ctx, rc.key(userID)).Err(); err != nil {
		log.WithError(err).Debug("role cache invalidate failed")
	}
}
