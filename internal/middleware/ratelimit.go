package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware enforces one request budget per caller across all
// endpoints it is mounted on, in fixed windows. Callers are keyed by tenant
// and user once authenticated, by IP otherwise. A nil client or a Redis error
// lets the request through.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil || limit <= 0 {
			return c.Next()
		}

		key := rateLimitKey(c)

		ctx := c.UserContext()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Next() // fail open
		}

		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			c.Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}

		return c.Next()
	}
}

func rateLimitKey(c *fiber.Ctx) string {
	if tenantID := GetTenantID(c); tenantID != "" {
		return fmt.Sprintf("rl:user:%s:%s", tenantID, GetUserID(c))
	}
	return fmt.Sprintf("rl:ip:%s", c.IP())
}
