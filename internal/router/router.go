package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-sync/internal/handler/health"
	"github.com/jwalitptl/clinic-sync/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-sync/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine   *gin.Engine
	health   *health.Handler
	metrics  *prometheus.Handler
	handlers []Handler
}

type RouterConfig struct {
	Mode      string
	RateLimit rate.Limit
	RateBurst int
	Timeout   time.Duration
}

// NewRouter builds the engine with the core middleware chain. handlers are
// mounted under /api/v1 by Setup.
func NewRouter(config RouterConfig, healthH *health.Handler, metricsH *prometheus.Handler, handlers ...Handler) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	engine := gin.New()

	r := &Router{
		engine:   engine,
		health:   healthH,
		metrics:  metricsH,
		handlers: handlers,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		metricsH.Middleware(),
		middleware.ErrorHandler(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.Timeout}),
	)

	if config.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	r.health.RegisterRoutes(r.engine)
	r.engine.GET("/metrics", r.metrics.Handler())

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})
	for _, h := range r.handlers {
		h.RegisterRoutes(api)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
