package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/factory-events-service/internal/metrics"
)

// RegisterMetricRoutes exposes process counters as text/plain key=value lines.
//
// GET /metrics
func RegisterMetricRoutes(r gin.IRoutes, m *metrics.Metrics) {
	r.GET("/metrics", func(c *gin.Context) {
		c.String(http.StatusOK, m.String())
	})
}
