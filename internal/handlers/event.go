package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/factory-events-service/internal/auth"
	"github.com/PratikDhanave/factory-events-service/internal/ingest"
	"github.com/PratikDhanave/factory-events-service/internal/logctx"
	"github.com/PratikDhanave/factory-events-service/internal/models"
	"github.com/PratikDhanave/factory-events-service/internal/store"
)

// RegisterEventRoutes registers the ingestion-path endpoint.
//
// POST /events/batch
// - Body: JSON array of events (gzip accepted), bounded by the router's body limit
// - Durable: returns the tally only after every store write completes
// - Idempotent: resubmitting a batch counts its events as deduped
func RegisterEventRoutes(r gin.IRoutes, eng *ingest.Engine, maxBatch int) {
	r.POST("/events/batch", func(c *gin.Context) {
		var batch []models.EventInput
		if err := c.ShouldBindJSON(&batch); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large", "max_bytes": tooLarge.Limit})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON array of events"})
			return
		}

		if maxBatch > 0 && len(batch) > maxBatch {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "batch too large", "max": maxBatch})
			return
		}

		ctx := logctx.WithInt(c.Request.Context(), "batch_size", len(batch))
		if producer := auth.ProducerID(c); producer != "" {
			ctx = logctx.WithStr(ctx, "producer_id", producer)
		}
		res, err := eng.Process(ctx, batch)
		if err != nil {
			c.JSON(storeErrorStatus(err), gin.H{"error": "batch could not be persisted"})
			return
		}

		c.JSON(http.StatusOK, res)
	})
}

// storeErrorStatus maps a failed store round trip to 503 when the store is down and 500 otherwise.
func storeErrorStatus(err error) int {
	if errors.Is(err, store.ErrUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
