package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/factory-events-service/internal/auth"
	"github.com/PratikDhanave/factory-events-service/internal/handlers"
	"github.com/PratikDhanave/factory-events-service/internal/ingest"
	"github.com/PratikDhanave/factory-events-service/internal/metrics"
	"github.com/PratikDhanave/factory-events-service/internal/stats"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps is everything the router serves.
type Deps struct {
	Store   Pinger
	Ingest  *ingest.Engine
	Stats   *stats.Service
	Metrics *metrics.Metrics

	APIKeys       map[string]string // empty disables X-API-Key checks
	MaxBatchSize  int
	MaxBodyBytes  int64 // raw and decompressed request body cap; 0 disables it
	TopLinesLimit int
}

// NewRouter wires public endpoints and the data APIs.
// Public: /health, /ready, /metrics
// Data (X-API-Key when configured): /events/batch, /stats, /stats/top-defect-lines
func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the store dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := d.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	handlers.RegisterMetricRoutes(r, d.Metrics)

	data := r.Group("/")
	if len(d.APIKeys) > 0 {
		data.Use(auth.APIKeyMiddleware(d.APIKeys))
	}
	data.Use(BodyLimit(d.MaxBodyBytes), GzipBody(d.MaxBodyBytes))

	handlers.RegisterEventRoutes(data, d.Ingest, d.MaxBatchSize)
	handlers.RegisterStatsRoutes(data, d.Stats, d.TopLinesLimit)

	return r
}
