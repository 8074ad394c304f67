package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/models"
	"github.com/sku-agent/prowl/retry"
)

// Health returns a handler for GET /api/v1/health.
//
// Status degrades to "degraded" while any site's circuit breaker is open:
// the process is alive but at least one site is being backed off.
func Health(configs map[string]*config.ScraperConfig, breaker *retry.Breaker, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		scrapers := make([]string, 0, len(configs))
		for name := range configs {
			scrapers = append(scrapers, name)
		}
		sort.Strings(scrapers)

		var open []string
		for key, st := range breaker.StatusAll() {
			if st.State == retry.StateOpen {
				open = append(open, key)
			}
		}
		sort.Strings(open)

		status := "healthy"
		if len(open) > 0 {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:       status,
			Uptime:       time.Since(startTime).Round(time.Second).String(),
			Version:      "0.1.0",
			Scrapers:     scrapers,
			OpenBreakers: open,
		})
	}
}
