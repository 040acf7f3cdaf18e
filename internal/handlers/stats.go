package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/factory-events-service/internal/stats"
)

// parseRFC3339 parses an RFC3339 timestamp and normalizes it to UTC.
func parseRFC3339(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseWindow reads a [fromKey, toKey) pair of RFC3339 query params.
// It writes a 400 and returns ok=false when either is missing, malformed, or reversed.
func parseWindow(c *gin.Context, fromKey, toKey string) (from, to time.Time, ok bool) {
	fromStr, toStr := c.Query(fromKey), c.Query(toKey)
	if fromStr == "" || toStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fromKey + " and " + toKey + " are required"})
		return time.Time{}, time.Time{}, false
	}

	from, err := parseRFC3339(fromStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fromKey + " must be RFC3339"})
		return time.Time{}, time.Time{}, false
	}
	to, err = parseRFC3339(toStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": toKey + " must be RFC3339"})
		return time.Time{}, time.Time{}, false
	}

	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fromKey + " must not be after " + toKey})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// RegisterStatsRoutes registers the serving-path endpoints.
//
// GET /stats?machineId=...&start=...&end=...
// GET /stats/top-defect-lines?factoryId=...&from=...&to=...&limit=...
//
// Both windows are half-open [start,end).
func RegisterStatsRoutes(r gin.IRoutes, svc *stats.Service, defaultLimit int) {
	r.GET("/stats", func(c *gin.Context) {
		machineID := c.Query("machineId")
		if machineID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "machineId is required"})
			return
		}
		start, end, ok := parseWindow(c, "start", "end")
		if !ok {
			return
		}

		out, err := svc.MachineStats(c.Request.Context(), machineID, start, end)
		if err != nil {
			c.JSON(storeErrorStatus(err), gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/stats/top-defect-lines", func(c *gin.Context) {
		factoryID := c.Query("factoryId")
		if factoryID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "factoryId is required"})
			return
		}
		from, to, ok := parseWindow(c, "from", "to")
		if !ok {
			return
		}

		limit := defaultLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		out, err := svc.TopDefectLines(c.Request.Context(), factoryID, from, to, limit)
		if err != nil {
			c.JSON(storeErrorStatus(err), gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, out)
	})
}
