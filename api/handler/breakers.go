package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sku-agent/prowl/retry"
)

// GetBreakers returns a handler for GET /api/v1/breakers with a snapshot
// of every tracked circuit breaker key.
func GetBreakers(breaker *retry.Breaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"breakers": breaker.StatusAll()})
	}
}

// ResetBreaker returns a handler for POST /api/v1/breakers/:key/reset,
// forcing one key back to a fresh closed state. Operators use this after
// manually clearing whatever tripped a site.
func ResetBreaker(breaker *retry.Breaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		breaker.Reset(key)
		c.JSON(http.StatusOK, gin.H{
			"key":   key,
			"state": breaker.Status(key).State,
		})
	}
}
