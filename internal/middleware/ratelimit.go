package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/response"
)

// RateLimiter is a per-student fixed-window counter kept in Redis, so the
// limit holds across server replicas. A nil Redis client or a non-positive
// rate disables it. Redis errors fail open.
type RateLimiter struct {
	rdb    *redis.Client
	rate   int
	window time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// NewRateLimiter creates a RateLimiter allowing rate requests per window.
func NewRateLimiter(rdb *redis.Client, rate int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		rate:   rate,
		window: window,
		now:    time.Now,
		log:    log.With().Str("component", "rate_limiter").Logger(),
	}
}

// Allow counts one request for studentID and reports whether it fits the window.
func (rl *RateLimiter) Allow(ctx context.Context, studentID int) bool {
	if rl == nil || rl.rdb == nil || rl.rate <= 0 {
		return true
	}

	slot := rl.now().UnixNano() / int64(rl.window)
	key := config.CacheKey.StudentAnswerRateKey(studentID, slot)

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.log.Warn().Err(err).Int("student_id", studentID).Msg("Rate limiter unavailable, allowing request")
		return true
	}
	return incr.Val() <= int64(rl.rate)
}

// Middleware rate-limits requests by the authenticated student.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			c.Next()
			return
		}
		if !rl.Allow(c.Request.Context(), claims.UserID) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
