package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sku-agent/prowl/api/handler"
	"github.com/sku-agent/prowl/api/middleware"
	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/coordinator"
	"github.com/sku-agent/prowl/events"
	"github.com/sku-agent/prowl/retry"
	"github.com/sku-agent/prowl/runner"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Runner   *runner.Runner
	Configs  map[string]*config.ScraperConfig
	Breaker  *retry.Breaker
	Bus      *events.Bus
	Hub      *events.Hub
	Coord    *coordinator.Client
	Registry *prometheus.Registry
	Config   *config.Config
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health, metrics and the event stream sit outside auth so monitoring
// probes and dashboards always work.
func NewRouter(deps Deps, startTime time.Time) *gin.Engine {
	gin.SetMode(deps.Config.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	store := handler.NewJobStore(time.Hour)

	v1 := r.Group("/api/v1")

	// Health and observability — no auth required.
	v1.GET("/health", handler.Health(deps.Configs, deps.Breaker, startTime))
	v1.GET("/events/ws", gin.WrapH(deps.Hub))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if deps.Config.Auth.Enabled {
		protected.Use(middleware.Auth(deps.Config.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(deps.Config.RateLimit))

	// Jobs
	protected.POST("/jobs", handler.PostJob(deps.Runner, store, deps.Coord))
	protected.GET("/jobs/:id", handler.GetJob(store))
	protected.GET("/jobs/:id/events", handler.GetJobEvents(deps.Bus))

	// Circuit breakers
	protected.GET("/breakers", handler.GetBreakers(deps.Breaker))
	protected.POST("/breakers/:key/reset", handler.ResetBreaker(deps.Breaker))

	return r
}
