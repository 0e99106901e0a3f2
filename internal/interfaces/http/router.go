// Package http assembles the gin route tree and the HTTP server lifecycle.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/prometheus"
	"github.com/chemcloud/calcstore/internal/interfaces/http/handlers"
	"github.com/chemcloud/calcstore/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handlers and cross-cutting dependencies needed
// to build the route tree.
type RouterConfig struct {
	Molecules    *handlers.MoleculeHandler
	Calculations *handlers.CalculationHandler
	Geometries   *handlers.GeometryHandler
	Health       *handlers.HealthHandler

	Metrics        *prometheus.AppMetrics
	MetricsHandler http.Handler
	CORS           middleware.CORSConfig
	Logger         logging.Logger
}

// NewRouter builds the gin engine with all middleware and routes mounted.
func NewRouter(cfg config.ServerConfig, rc RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(rc.Logger))
	r.Use(middleware.RequestLogging(rc.Logger))
	r.Use(middleware.CORS(rc.CORS))
	r.Use(middleware.Identity())
	if rc.Metrics != nil {
		r.Use(middleware.Metrics(rc.Metrics))
	}
	if cfg.MaxBodySize > 0 {
		r.Use(func(c *gin.Context) {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxBodySize)
			c.Next()
		})
	}

	if rc.Health != nil {
		rc.Health.Register(r)
	}
	if rc.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(rc.MetricsHandler))
	}

	api := r.Group("/api/v1")
	if rc.Molecules != nil {
		rc.Molecules.Register(api)
	}
	if rc.Calculations != nil {
		rc.Calculations.Register(api)
	}
	if rc.Geometries != nil {
		rc.Geometries.Register(api)
	}

	return r
}
