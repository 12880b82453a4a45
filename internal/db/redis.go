package db

import (
	"time"

	"backend-shaperun/internal/config"

	"github.com/redis/go-redis/v9"
)

// redisTimeout bounds every route-cache round trip. The cache falls
// through to the router on error, so a slow Redis must not stall a fit.
// Pub/sub receives carry their own deadlines.
const redisTimeout = 500 * time.Millisecond

// ConnectRedis returns nil when no address is configured; callers treat a
// nil client as "no cache".
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  redisTimeout,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
	})
}
