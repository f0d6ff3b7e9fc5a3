// Package router provides knowledge base service routing.
package router

import (
	"net/http"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-kb/internal/kb/handler"
	"github.com/kart-io/sentinel-kb/pkg/infra/server"
)

// Register registers the knowledge base routes.
func Register(mgr *server.Manager, h *handler.Handler) error {
	logger.Info("Registering knowledge base routes...")

	httpServer := mgr.HTTPServer()
	if httpServer == nil {
		return nil
	}
	router := httpServer.Engine()

	// System endpoints
	router.GET("/healthz", h.Healthz)
	router.GET("/version", h.Version)
	router.GET("/metrics", h.Metrics)

	// Presigned object access
	router.GET("/objects/*key", h.GetObject)
	router.PUT("/objects/*key", h.PutObject)

	v1 := router.Group("/api/v1")
	{
		items := v1.Group("/items")
		{
			items.POST("", h.CreateItem)
			items.GET("", h.ListItems)
			items.POST("/upload", h.Upload)
			items.GET("/:id", h.GetItem)
			items.DELETE("/:id", h.DeleteItem)
			items.POST("/:id/ingest", h.TriggerIngest)
			items.GET("/:id/ingestion-status", h.IngestionStatus)
			items.GET("/:id/compatibility", h.Compatibility)
		}

		v1.POST("/websites", h.CreateWebsite)
		v1.POST("/youtube/process", h.ProcessYouTube)
		v1.POST("/search", h.Search)

		chat := v1.Group("/chat")
		{
			chat.POST("", h.Chat)
			chat.POST("/stream", h.ChatStream)
			chat.POST("/sessions", h.CreateSession)
			chat.GET("/:session/history", h.History)
			chat.DELETE("/:session/history", h.ClearHistory)
		}

		cache := v1.Group("/cache")
		{
			cache.GET("/stats", h.CacheStats)
			cache.Handle(http.MethodDelete, "", h.ClearCache)
		}

		v1.POST("/objects/presign", h.Presign)
	}

	logger.Infow("HTTP routes registered", "routes", len(router.Routes()))
	return nil
}
