package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func buildRouterForTest(t *testing.T, cfg *Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	m, err := NewManager(cfg, nil) // nil redis -> in-memory store
	require.NoError(t, err)
	r.Use(m.Middleware())
	r.GET("/t", func(c *gin.Context) { c.String(200, "ok") })
	return r
}

func doReq(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/t", http.NoBody)
	if ip != "" {
		req.Header.Set("X-Real-IP", ip)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestInMemoryGlobalRateLimit_BlocksSecondRequest(t *testing.T) {
	cfg := &Config{
		GlobalRate: RateConfig{Limit: 1, Period: time.Second},
		RouteRates: map[string]RateConfig{},
		Prefix:     "test:ratelimit",
		MaxRetry:   1,
	}
	r := buildRouterForTest(t, cfg)

	// First request should pass
	res1 := doReq(r, "1.2.3.4")
	require.Equal(t, 200, res1.Code)
	// Second immediate request should be blocked (same IP key)
	res2 := doReq(r, "1.2.3.4")
	require.Equal(t, 429, res2.Code)
}

func TestInMemoryGlobalRateLimit_RefillAfterPeriod(t *testing.T) {
	cfg := &Config{
		GlobalRate: RateConfig{Limit: 1, Period: 100 * time.Millisecond},
		RouteRates: map[string]RateConfig{},
		Prefix:     "test:ratelimit",
		MaxRetry:   1,
	}
	r := buildRouterForTest(t, cfg)

	res1 := doReq(r, "5.6.7.8")
	require.Equal(t, 200, res1.Code)
	res2 := doReq(r, "5.6.7.8")
	require.Equal(t, 429, res2.Code)
	// Wait for refill and try again
	time.Sleep(120 * time.Millisecond)
	res3 := doReq(r, "5.6.7.8")
	require.Equal(t, 200, res3.Code)
}

func TestInMemoryRateLimit_SetsHeaders(t *testing.T) {
	cfg := &Config{
		GlobalRate: RateConfig{Limit: 2, Period: time.Minute},
		RouteRates: map[string]RateConfig{},
		Prefix:     "test:ratelimit",
		MaxRetry:   1,
	}
	r := buildRouterForTest(t, cfg)
	res := doReq(r, "9.9.9.9")
	require.Equal(t, 200, res.Code)
	require.NotEmpty(t, res.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, res.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, res.Header().Get("X-RateLimit-Reset"))
}

func TestRouteRatesAndExclusions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &Config{
		GlobalRate:    RateConfig{Limit: 10, Period: time.Minute},
		RouteRates:    map[string]RateConfig{"/api/v0/ingest": {Limit: 1, Period: time.Minute}},
		Prefix:        "test:ratelimit",
		MaxRetry:      1,
		ExcludedPaths: []string{"/healthz"},
	}
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	r := gin.New()
	r.Use(m.Middleware())
	r.POST("/api/v0/ingest", func(c *gin.Context) { c.String(200, "ok") })
	r.POST("/api/v0/chat", func(c *gin.Context) { c.String(200, "ok") })
	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })
	send := func(method, path string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, http.NoBody)
		req.Header.Set("X-Real-IP", "10.0.0.1")
		r.ServeHTTP(w, req)
		return w.Code
	}
	t.Run("Should apply the stricter route rate", func(t *testing.T) {
		require.Equal(t, 200, send(http.MethodPost, "/api/v0/ingest"))
		require.Equal(t, 429, send(http.MethodPost, "/api/v0/ingest"))
	})
	t.Run("Should keep a separate counter for other routes", func(t *testing.T) {
		require.Equal(t, 200, send(http.MethodPost, "/api/v0/chat"))
	})
	t.Run("Should never limit excluded paths", func(t *testing.T) {
		for range 20 {
			require.Equal(t, 200, send(http.MethodGet, "/healthz"))
		}
	})
}

func TestConfigValidate(t *testing.T) {
	t.Run("Should reject a non-positive global limit", func(t *testing.T) {
		_, err := NewManager(&Config{GlobalRate: RateConfig{Limit: 0, Period: time.Second}}, nil)
		require.Error(t, err)
	})
	t.Run("Should accept the defaults", func(t *testing.T) {
		require.NoError(t, DefaultConfig().Validate())
	})
}

func TestBlockedRequestsMetric(t *testing.T) {
	t.Run("Should count requests rejected by the limiter", func(t *testing.T) {
		ResetMetricsForTesting()
		t.Cleanup(ResetMetricsForTesting)
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		require.NoError(t, InitMetrics(provider.Meter("ratelimit-test")))
		cfg := &Config{
			GlobalRate: RateConfig{Limit: 1, Period: time.Hour},
			RouteRates: map[string]RateConfig{},
			Prefix:     "test:ratelimit:metrics",
			MaxRetry:   1,
		}
		r := buildRouterForTest(t, cfg)
		require.Equal(t, http.StatusOK, doReq(r, "9.9.9.9").Code)
		require.Equal(t, http.StatusTooManyRequests, doReq(r, "9.9.9.9").Code)
		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(t.Context(), &rm))
		var total int64
		for _, scope := range rm.ScopeMetrics {
			for _, m := range scope.Metrics {
				if m.Name != "kbchat_http_rate_limit_blocks_total" {
					continue
				}
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
		assert.Equal(t, int64(1), total)
	})
}
