package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/config"
	"provably-fair-backend/internal/logger"
)

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, userID int64, action string, limit int, window time.Duration) (bool, error)
}

type RateLimits struct {
	Bets     int
	Cashouts int
	Window   time.Duration
}

func RateLimitsFromConfig(cfg *config.Config) RateLimits {
	return RateLimits{
		Bets:     cfg.RateLimitBets,
		Cashouts: cfg.RateLimitCashouts,
		Window:   cfg.RateLimitWindow,
	}
}

// RateLimitMiddleware caps stake-placing and cash-out calls per user and
// window. It must run after AuthMiddleware.
func RateLimitMiddleware(limiter RateLimiter, limits RateLimits) gin.HandlerFunc {
	window := limits.Window
	if window <= 0 {
		window = time.Minute
	}

	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.Next()
			return
		}

		path := c.Request.URL.Path

		var action string
		var limit int

		switch {
		case strings.HasSuffix(path, "/cashout"):
			action, limit = "cashout", limits.Cashouts
		case strings.HasSuffix(path, "/coinflip/open"),
			strings.HasSuffix(path, "/coinflip/ride"),
			strings.HasSuffix(path, "/crash/start"):
			action, limit = "bet", limits.Bets
		default:
			c.Next()
			return
		}
		if limit <= 0 {
			c.Next()
			return
		}

		allowed, err := limiter.CheckRateLimit(c.Request.Context(), userID.(int64), action, limit, window)
		if err != nil {
			logger.Log.Warn("rate limit check failed", zap.String("action", action), zap.Error(err))
		}
		if err != nil || !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       apperrors.CodeRateLimited,
				"details":     "Rate limit exceeded",
				"retry_after": window.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
