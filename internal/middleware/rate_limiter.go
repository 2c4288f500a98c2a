package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alumnet/backend/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles by client IP over a fixed Redis-backed window. Health
// probes are exempt, and Redis being unreachable never blocks a request.
func RateLimiter(redisClient *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		ctx := context.Background()
		key := "api_rate_limit:" + c.ClientIP()

		count, err := redisClient.Get(ctx, key).Int()
		switch {
		case err == redis.Nil:
			if err := redisClient.Set(ctx, key, 1, cfg.RateLimitDuration).Err(); err != nil {
				c.Next()
				return
			}
			c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RateLimitRequests))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(cfg.RateLimitRequests-1))
		case err != nil:
			c.Next()
			return
		case count >= cfg.RateLimitRequests:
			ttl, _ := redisClient.TTL(ctx, key).Result()
			c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RateLimitRequests))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": ttl.Seconds(),
			})
			return
		default:
			newCount, _ := redisClient.Incr(ctx, key).Result()
			c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RateLimitRequests))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(cfg.RateLimitRequests-int(newCount)))
		}

		c.Next()
	}
}
