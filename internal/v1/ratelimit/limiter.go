// Package ratelimit enforces per-agent, per-endpoint-class request budgets
// on the Agent Interface Contract using Redis (when available) or an
// in-process memory store as a fallback.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/config"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/logging"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Class is one of the four Agent Interface Contract rate-limit buckets. Each
// agent gets an independent budget per class, so a burst of movement intents
// never starves its chat or observation calls.
type Class string

const (
	ClassObservation Class = "observation"
	ClassAction      Class = "action"
	ClassChat        Class = "chat"
	ClassEvents      Class = "events"
)

// RateLimiter holds one ulule/limiter instance per endpoint class, all
// backed by the same store.
type RateLimiter struct {
	limiters    map[Class]*limiter.Limiter
	store       limiter.Store
	redisClient *redis.Client
}

// NewRateLimiter builds a RateLimiter from the four class rate strings in
// cfg. When redisClient is non-nil its store is shared across server
// instances; otherwise limits are enforced in-process only.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	rates := map[Class]string{
		ClassObservation: cfg.RateLimitObservation,
		ClassAction:      cfg.RateLimitAction,
		ClassChat:        cfg.RateLimitChat,
		ClassEvents:      cfg.RateLimitEvents,
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "openclaw:ratelimit:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis rate limit store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-process memory store (no redis configured)")
	}

	limiters := make(map[Class]*limiter.Limiter, len(rates))
	for class, formatted := range rates {
		rate, err := parseRate(formatted)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for class %s (%q): %w", class, formatted, err)
		}
		limiters[class] = limiter.New(store, rate)
	}

	return &RateLimiter{
		limiters:    limiters,
		store:       store,
		redisClient: redisClient,
	}, nil
}

// parseRate reads "<limit>-<period>" in ulule's formatted notation, with an
// optional ",<burst>" suffix. The limiter's window cap is the burst when one
// is given, so short spikes up to the burst are admitted while the steady
// rate stays documented in the first half of the string.
func parseRate(formatted string) (limiter.Rate, error) {
	base := formatted
	var burst string
	if i := strings.IndexByte(formatted, ','); i >= 0 {
		base, burst = formatted[:i], formatted[i+1:]
	}
	rate, err := limiter.NewRateFromFormatted(base)
	if err != nil {
		return limiter.Rate{}, err
	}
	if burst != "" {
		n, err := strconv.ParseInt(burst, 10, 64)
		if err != nil || n < rate.Limit {
			return limiter.Rate{}, fmt.Errorf("invalid burst %q", burst)
		}
		rate.Limit = n
	}
	return rate, nil
}

// Allow checks whether agentID may make one more call in the given class.
// It fails open (returns allowed=true) if the store is unreachable, since
// availability of the simulation outweighs strict limiting during an outage.
func (rl *RateLimiter) Allow(ctx context.Context, agentID string, class Class) (allowed bool, retryAfter time.Duration, err error) {
	lim, ok := rl.limiters[class]
	if !ok {
		return true, 0, fmt.Errorf("unknown rate limit class: %s", class)
	}

	key := fmt.Sprintf("%s:%s", class, agentID)
	result, storeErr := lim.Get(ctx, key)
	if storeErr != nil {
		logging.Error(ctx, "rate limiter store failed, failing open", zap.String("class", string(class)), zap.Error(storeErr))
		metrics.RateLimitRequests.WithLabelValues(string(class)).Inc()
		return true, 0, nil
	}

	metrics.RateLimitRequests.WithLabelValues(string(class)).Inc()

	if result.Reached {
		metrics.RateLimitExceeded.WithLabelValues(string(class), "budget_exhausted").Inc()
		reset := time.Unix(result.Reset, 0)
		return false, time.Until(reset), nil
	}

	return true, 0, nil
}

// Middleware returns a Gin middleware enforcing the given class's budget for
// the agent id stored under "agentId" in the Gin context. Requests without
// one are keyed by client IP instead.
func (rl *RateLimiter) Middleware(class Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID, exists := c.Get("agentId")
		key, _ := agentID.(string)
		if !exists || key == "" {
			key = "ip:" + c.ClientIP()
		}

		allowed, retryAfter, err := rl.Allow(c.Request.Context(), key, class)
		if err != nil {
			c.Next()
			return
		}

		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status": "error",
				"error": gin.H{
					"code":      "rate_limited",
					"message":   fmt.Sprintf("rate limit exceeded for %s", class),
					"retryable": true,
				},
			})
			return
		}

		c.Next()
	}
}
