package web

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all application routes.
func SetupRoutes(r *gin.Engine, h *Handlers) {
	// Health endpoints (no rate limit)
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.Liveness)
	r.GET("/ready", h.Readiness)

	// API routes with rate limiting and content-type validation
	apiRateLimiter := RateLimiter(30, 60) // 30 requests/sec, burst of 60
	api := r.Group("/api")
	api.Use(apiRateLimiter)
	api.Use(RequireJSONContentType())
	{
		api.POST("/properties", h.APICreateProperty)
		api.GET("/properties", h.APIListProperties)
		api.GET("/properties/:id", h.APIGetProperty)
		api.PUT("/properties/:id", h.APIUpdateProperty)
		api.DELETE("/properties/:id", h.APIDeleteProperty)
		api.GET("/properties/:id/status", h.APIPropertyStatus)
		api.GET("/properties/:id/sync", h.APIPropertyStatus)
		api.GET("/properties/:id/events", h.APIPropertyEvents)
		api.POST("/properties/:id/detect", h.APIDetectConflicts)
		api.GET("/properties/:id/connections", h.APIListConnections)
		api.POST("/properties/:id/connections", h.APICreateConnection)
		api.GET("/properties/:id/conflicts", h.APIListConflicts)
		api.GET("/properties/:id/conflicts/:cid", h.APIGetConflict)
		api.POST("/properties/:id/conflicts/:cid/resolve", h.APIResolveConflict)
		api.POST("/properties/:id/conflicts/:cid/acknowledge", h.APIAcknowledgeConflict)
		api.DELETE("/properties/:id/conflicts/:cid", h.APIDeleteConflict)

		api.POST("/connections", h.APICreateConnection)
		api.GET("/connections", h.APIListConnections)
		api.GET("/connections/:id", h.APIGetConnection)
		api.PUT("/connections/:id", h.APIUpdateConnection)
		api.DELETE("/connections/:id", h.APIDeleteConnection)
		api.GET("/connections/:id/logs", h.APIConnectionLogs)

		api.GET("/conflicts", h.APIListConflicts)
		api.GET("/conflicts/:id", h.APIGetConflict)
		api.POST("/conflicts/:id/resolve", h.APIResolveConflict)
		api.POST("/conflicts/:id/acknowledge", h.APIAcknowledgeConflict)
		api.POST("/conflicts/:id/ignore", h.APIIgnoreConflict)
		api.DELETE("/conflicts/:id", h.APIDeleteConflict)

		api.GET("/sync/status", h.APISyncStatus)
		api.GET("/dashboard/stats", h.APIDashboardStats)
	}

	// Expensive operations with stricter rate limiting (outbound network calls)
	expensiveRateLimiter := RateLimiter(2, 5) // 2 requests/sec, burst of 5
	expensive := r.Group("/api")
	expensive.Use(expensiveRateLimiter)
	expensive.Use(RequireJSONContentType())
	{
		expensive.POST("/sync", h.APISyncAll)
		expensive.POST("/properties/:id/sync", h.APISyncProperty)
		expensive.POST("/connections/test", h.APITestFeedURL)
		expensive.POST("/connections/:id/test", h.APITestConnection)
		expensive.POST("/connections/:id/sync", h.APISyncConnection)
		expensive.POST("/webhooks/test", h.APITestWebhook)
	}
}
