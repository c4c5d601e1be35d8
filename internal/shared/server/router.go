package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"url-analyzer/internal/services/health"
	"url-analyzer/internal/shared/config"
	"url-analyzer/internal/shared/metrics"
	"url-analyzer/internal/shared/server/middleware"
	"url-analyzer/internal/shared/server/respond"
)

// RouteRegistrar attaches a feature's routes under /api/v1.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps carries everything NewRouter wires.
type RouterDeps struct {
	Config      config.Config
	Health      *health.Service
	RateLimiter *middleware.RateLimiter
	Routes      []RouteRegistrar
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	cfg := deps.Config
	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
		middleware.RateLimit(middleware.RateLimitConfig{
			Limiter:  deps.RateLimiter,
			GroupFor: rateLimitGroup,
			Rules: map[string]middleware.RateLimitRule{
				"DEFAULT": {Rate: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
			},
		}),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService(nil)
	}

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		status, ok := healthSvc.Status(c.Request.Context())
		code := http.StatusOK
		if !ok {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})
	for _, reg := range deps.Routes {
		if reg != nil {
			reg.RegisterRoutes(api)
		}
	}

	return r
}

// Status polls have their own limiter; everything else shares DEFAULT.
func rateLimitGroup(c *gin.Context) string {
	path := c.Request.URL.Path
	switch {
	case path == "/metrics", strings.HasSuffix(path, "/health"):
		return "INFRA"
	case c.Request.Method == http.MethodGet && strings.HasPrefix(path, "/api/v1/analyses/"):
		return "POLL"
	default:
		return "DEFAULT"
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
