package ratelimit

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const (
	keyTypeIP         = "ip"
	memoryCleanupTick = time.Minute
)

type routeLimiter struct {
	prefix  string
	handler gin.HandlerFunc
}

// Manager owns the limiter store and builds the gin middleware. Requests are
// keyed by client IP; a route rate, when its prefix matches, replaces the
// global rate for that request.
type Manager struct {
	config *Config
	store  limiter.Store
	global gin.HandlerFunc
	routes []routeLimiter
}

// NewManager builds a manager backed by Redis when client is non-nil and by
// an in-process store otherwise.
func NewManager(cfg *Config, client redis.UniversalClient) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ratelimit: %w", err)
	}
	store, err := newStore(cfg, client)
	if err != nil {
		return nil, err
	}
	m := &Manager{config: cfg, store: store}
	m.global = m.middlewareFor(cfg.GlobalRate, "global")
	for prefix, rate := range cfg.RouteRates {
		if rate.Disabled {
			continue
		}
		m.routes = append(m.routes, routeLimiter{prefix: prefix, handler: m.middlewareFor(rate, prefix)})
	}
	// longest prefix wins
	slices.SortFunc(m.routes, func(a, b routeLimiter) int { return len(b.prefix) - len(a.prefix) })
	return m, nil
}

func newStore(cfg *Config, client redis.UniversalClient) (limiter.Store, error) {
	opts := limiter.StoreOptions{
		Prefix:          cfg.Prefix,
		MaxRetry:        cfg.MaxRetry,
		CleanUpInterval: memoryCleanupTick,
	}
	if client == nil {
		return memory.NewStoreWithOptions(opts), nil
	}
	store, err := sredis.NewStoreWithOptions(client, opts)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	return store, nil
}

func (m *Manager) middlewareFor(rate RateConfig, route string) gin.HandlerFunc {
	instance := limiter.New(m.store, rate.ToLimiterRate())
	return mgin.NewMiddleware(
		instance,
		mgin.WithKeyGetter(func(c *gin.Context) string { return route + ":" + c.ClientIP() }),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			IncrementBlockedRequests(c.Request.Context(), route, keyTypeIP)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"type":    "about:blank",
				"title":   http.StatusText(http.StatusTooManyRequests),
				"status":  http.StatusTooManyRequests,
				"success": false,
				"message": "rate limit exceeded",
			})
		}),
	)
}

// Middleware applies the matching limiter to every request outside the
// excluded paths.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if m.excluded(path) {
			c.Next()
			return
		}
		for _, route := range m.routes {
			if strings.HasPrefix(path, route.prefix) {
				route.handler(c)
				return
			}
		}
		m.global(c)
	}
}

func (m *Manager) excluded(path string) bool {
	for _, p := range m.config.ExcludedPaths {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}
