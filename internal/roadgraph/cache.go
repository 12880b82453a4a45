package roadgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backend-shaperun/internal/metrics"
	"backend-shaperun/internal/shared/geo"

	"github.com/redis/go-redis/v9"
)

const cacheTTL = 24 * time.Hour

// CachedRouter memoizes Nearest and ShortestPath answers in redis.
// Cache failures fall through to the wrapped router.
type CachedRouter struct {
	next   Router
	redis  *redis.Client
	prefix string
}

func NewCachedRouter(next Router, rdb *redis.Client, prefix string) Router {
	if rdb == nil {
		return next
	}
	return &CachedRouter{next: next, redis: rdb, prefix: prefix}
}

func (c *CachedRouter) Nearest(ctx context.Context, p geo.LatLng, radiusM float64, n int) ([]geo.LatLng, error) {
	key := fmt.Sprintf("%s:nearest:%.5f:%.5f:%.0f:%d", c.prefix, p.Lat, p.Lng, radiusM, n)
	var out []geo.LatLng
	if c.get(ctx, key, &out) {
		return out, nil
	}
	out, err := c.next.Nearest(ctx, p, radiusM, n)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, out)
	return out, nil
}

func (c *CachedRouter) ShortestPath(ctx context.Context, from, to geo.LatLng) (Path, error) {
	key := fmt.Sprintf("%s:path:%.5f:%.5f:%.5f:%.5f", c.prefix, from.Lat, from.Lng, to.Lat, to.Lng)
	var out Path
	if c.get(ctx, key, &out) {
		return out, nil
	}
	out, err := c.next.ShortestPath(ctx, from, to)
	if err != nil {
		return Path{}, err
	}
	c.set(ctx, key, out)
	return out, nil
}

func (c *CachedRouter) get(ctx context.Context, key string, out any) bool {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if json.Unmarshal(raw, out) != nil {
		return false
	}
	metrics.CollaboratorRequestsTotal.WithLabelValues(metrics.ServiceRouting, "cache", metrics.ResultCached).Inc()
	return true
}

func (c *CachedRouter) set(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, raw, cacheTTL).Err()
}
