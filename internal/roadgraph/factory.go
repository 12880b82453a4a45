package roadgraph

import (
	"context"

	"backend-shaperun/internal/config"
	"backend-shaperun/internal/metrics"
	"backend-shaperun/internal/route"
	"backend-shaperun/internal/shared/collab"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/redis/go-redis/v9"
)

// FromConfig picks the offline snapshot when ROAD_GRAPH_PATH is set and
// the OSRM server otherwise. Network answers are cached in redis.
func FromConfig(ctx context.Context, cfg config.Config, rdb *redis.Client, logger log.Logger) (Router, error) {
	if cfg.RoadGraphPath != "" {
		g, err := LoadSnapshot(ctx, cfg.RoadGraphPath)
		if err != nil {
			return nil, err
		}
		level.Info(logger).Log("msg", "loaded offline road graph", "path", cfg.RoadGraphPath, "nodes", g.NodeCount())
		return g, nil
	}
	return osrmRouter(cfg, cfg.OSRMProfile, rdb, logger), nil
}

// ModeRouters returns a router for each travel mode whose OSRM profile
// differs from the default one. An offline snapshot has no profiles and
// serves every mode, so it yields none.
func ModeRouters(cfg config.Config, rdb *redis.Client, logger log.Logger) map[route.Mode]Router {
	out := map[route.Mode]Router{}
	if cfg.RoadGraphPath != "" {
		return out
	}
	if p := cfg.OSRMRunningProfile; p != "" && p != cfg.OSRMProfile {
		out[route.ModeRunning] = osrmRouter(cfg, p, rdb, logger)
		level.Info(logger).Log("msg", "running routes use their own profile", "profile", p)
	}
	return out
}

func osrmRouter(cfg config.Config, profile string, rdb *redis.Client, logger log.Logger) Router {
	client := collab.NewClient(metrics.ServiceRouting, cfg.CollaboratorTimeout, cfg.CollaboratorRetries, logger)
	return NewCachedRouter(NewOSRM(cfg.OSRMURL, profile, client), rdb, "roadgraph:"+profile)
}
