package ratelimit

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/JonasWeigert/PromptGate/internal/pkg/cache"
	"github.com/JonasWeigert/PromptGate/internal/pkg/env"
)

// NewAPILimiter builds the rate limiter applied to the /api group. Counters
// live in Redis so limits hold across gateway instances.
func NewAPILimiter() fiber.Handler {
	// Reuse the Redis connection details from the cache setup.
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	storage := redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1, // separate database from the default cache DB
		Reset:    false,
	})

	max := 120
	if v, err := strconv.Atoi(env.GetEnv("API_RATE_LIMIT", "120")); err == nil && v > 0 {
		max = v
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Limit per user when the app identifies itself, per IP otherwise.
			if uid := strings.TrimSpace(c.Get("X-User-ID")); uid != "" {
				return "user:" + uid
			}
			return "ip:" + c.IP()
		},
	})
}
