package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/compozy/kbchat/engine/infra/monitoring"
	"github.com/compozy/kbchat/engine/infra/server/appstate"
	"github.com/compozy/kbchat/engine/infra/server/middleware/ratelimit"
	"github.com/compozy/kbchat/engine/infra/server/router"
	"github.com/compozy/kbchat/engine/infra/server/routes"
	"github.com/compozy/kbchat/pkg/config"
	"github.com/compozy/kbchat/pkg/logger"
	"github.com/compozy/kbchat/pkg/version"
)

func convertRateLimitConfig(cfg *config.Config) *ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	if cfg.RateLimit.Limit > 0 {
		rl.GlobalRate.Limit = cfg.RateLimit.Limit
	}
	if cfg.RateLimit.Period > 0 {
		rl.GlobalRate.Period = cfg.RateLimit.Period
	}
	if p := strings.TrimSpace(cfg.RateLimit.Prefix); p != "" {
		rl.Prefix = p
	}
	rl.RedisAddr = strings.TrimSpace(cfg.RateLimit.RedisAddr)
	if cfg.Monitoring.Path != "" {
		rl.ExcludedPaths = append(rl.ExcludedPaths, cfg.Monitoring.Path)
	}
	return rl
}

// buildRateLimiter returns nil when rate limiting is disabled. The returned
// cleanup closes the Redis client, if one was opened.
func buildRateLimiter(cfg *config.Config) (gin.HandlerFunc, func() error, error) {
	noop := func() error { return nil }
	if !cfg.RateLimit.Enabled {
		return nil, noop, nil
	}
	rl := convertRateLimitConfig(cfg)
	var client redis.UniversalClient
	closer := noop
	if rl.RedisAddr != "" {
		c := redis.NewClient(&redis.Options{Addr: rl.RedisAddr})
		client, closer = c, c.Close
	}
	manager, err := ratelimit.NewManager(rl, client)
	if err != nil {
		closer()
		return nil, noop, fmt.Errorf("failed to initialize rate limiting: %w", err)
	}
	return manager.Middleware(), closer, nil
}

// buildRouter assembles the engine. mon may be nil.
func buildRouter(
	ctx context.Context,
	cfg *config.Config,
	state *appstate.State,
	mon *monitoring.Service,
) (*gin.Engine, func() error, error) {
	log := logger.FromContext(ctx)
	r := gin.New()
	r.Use(gin.Recovery())
	limiter, closeLimiter, err := buildRateLimiter(cfg)
	if err != nil {
		return nil, nil, err
	}
	if limiter != nil {
		r.Use(limiter)
		driver := "memory"
		if cfg.RateLimit.RedisAddr != "" {
			driver = "redis"
		}
		log.Info("Rate limiter initialized",
			"driver", driver,
			"limit", cfg.RateLimit.Limit,
			"period", cfg.RateLimit.Period,
		)
	}
	monitored := mon != nil && mon.IsInitialized()
	if monitored {
		r.Use(mon.GinMiddleware())
	}
	r.Use(LoggerMiddleware(log))
	r.Use(appstate.StateMiddleware(state))
	r.Use(router.ErrorHandler())
	if monitored {
		r.GET(mon.Path(), gin.WrapH(mon.ExporterHandler()))
	}
	RegisterRoutes(ctx, r, cfg)
	return r, closeLimiter, nil
}

func (s *Server) logStartupBanner() {
	host := friendlyHost(s.cfg.Server.Host)
	httpURL := fmt.Sprintf("http://%s:%d", host, s.cfg.Server.Port)
	lines := []string{
		"kbchat " + version.Get().Version,
		fmt.Sprintf("  API     > %s%s", httpURL, routes.Base()),
		fmt.Sprintf("  Health  > %s%s", httpURL, routes.Healthz()),
	}
	if s.monitoring != nil && s.monitoring.IsInitialized() {
		lines = append(lines, fmt.Sprintf("  Metrics > %s%s", httpURL, s.monitoring.Path()))
	}
	logger.FromContext(s.ctx).Info("\n" + strings.Join(lines, "\n"))
}

func friendlyHost(h string) string {
	if h == hostAny || h == "::" || h == "" {
		return hostLoopback
	}
	return h
}
