package main

import (
	"github.com/gin-gonic/gin"

	"ccbridge/internal/config"
	"ccbridge/internal/httpapi"
	"ccbridge/internal/manager"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to the
// manager and adapter packages.
func registerRoutes(r *gin.Engine, mgr *manager.Manager, cfg config.Config) {
	// Twilio signs callbacks with the account auth token; a dedicated webhook
	// secret takes precedence when callbacks are re-signed by a fronting proxy.
	signingKey := cfg.Twilio.WebhookSecret
	if signingKey == "" {
		signingKey = cfg.Twilio.AuthToken
	}
	h := httpapi.Handlers{
		Manager:         mgr,
		TwilioAuthToken: signingKey,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Vendor webhooks (public path, signature-validated when a token is set).
	r.POST("/webhooks/twilio/voice/:id", h.TwilioVoiceWebhook)

	v1 := r.Group("/v1")
	{
		v1.GET("/platforms", h.ListPlatforms)
		v1.POST("/platforms", h.AddPlatform)
		v1.GET("/platforms/:id", h.PlatformStatus)
		v1.DELETE("/platforms/:id", h.RemovePlatform)
		v1.POST("/platforms/:id/connect", h.ConnectPlatform)
		v1.POST("/platforms/:id/disconnect", h.DisconnectPlatform)
		v1.GET("/platforms/:id/metrics", h.PlatformMetrics)

		v1.POST("/historical", h.HistoricalData)
	}
}
