package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alumnet/backend/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UploadRateLimit caps media uploads per uploader per day. The counter lives
// in Redis and resets at midnight; Redis being down never blocks an upload.
func UploadRateLimit(redisClient *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		userIDValue, exists := c.Get("userID")
		if !exists {
			c.Next()
			return
		}
		uploaderID, ok := userIDValue.(uuid.UUID)
		if !ok {
			c.Next()
			return
		}

		ctx := context.Background()
		today := time.Now().Format("2006-01-02")
		key := fmt.Sprintf("media_upload_limit:%s:%s", uploaderID, today)

		count, err := redisClient.Get(ctx, key).Int()
		switch {
		case err == redis.Nil:
			now := time.Now()
			midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
			if err := redisClient.Set(ctx, key, 1, midnight.Sub(now)).Err(); err != nil {
				c.Next()
				return
			}
		case err != nil:
			c.Next()
			return
		case count >= cfg.UploadsPerDay:
			ttl, _ := redisClient.TTL(ctx, key).Result()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               "upload_rate_limit_exceeded",
				"retry_after_hours":   int(ttl.Hours()),
				"uploads_today":       count,
				"max_uploads_per_day": cfg.UploadsPerDay,
			})
			return
		default:
			_ = redisClient.Incr(ctx, key).Err()
		}

		c.Next()
	}
}
