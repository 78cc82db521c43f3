package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/handlers"
)

// SetupRouter builds the HTTP surface: probes, metrics and the v1 API
func SetupRouter(h *handlers.Handler) *gin.Engine {
	r := gin.Default()

	// ============ Probes ============
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ API Routes ============
	v1 := r.Group("/api/v1")
	{
		v1.GET("/orders", h.ListOrders)
		v1.GET("/orders/:id", h.GetOrder)
		v1.POST("/orders", h.SubmitOrder)
		v1.GET("/checkpoints", h.ListCheckpoints)
		v1.GET("/events", h.ListEvents)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message":    "Endpoint not found",
			"path":       c.Request.URL.Path,
			"suggestion": "Check /api/v1 endpoints for available APIs",
		})
	})

	return r
}
