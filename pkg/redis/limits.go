package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// FixedWindowAllow counts a hit against scope in the current window and
// reports whether the count is still within limit.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c.store == nil {
		return false, 0, errNotInitialized
	}
	if window <= 0 {
		window = time.Minute
	}
	bucket := c.clock().UnixNano() / int64(window)
	key := c.rateLimitBucketKey(scope, bucket)

	count, err := c.store.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	// The first hit owns the expiry; a window of slack covers clock skew
	// between replicas.
	if count == 1 {
		if err := c.store.Expire(ctx, key, 2*window).Err(); err != nil {
			return count <= limit, count, err
		}
	}
	return count <= limit, count, nil
}

// CachedToken returns "" when no token is cached for provider.
func (c *Client) CachedToken(ctx context.Context, provider string) (string, error) {
	token, err := c.Get(ctx, c.CarrierTokenKey(provider))
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

// StoreToken caches a carrier token; callers pass a ttl shorter than the
// token's real lifetime.
func (c *Client) StoreToken(ctx context.Context, provider, token string, ttl time.Duration) error {
	return c.Set(ctx, c.CarrierTokenKey(provider), token, ttl)
}
