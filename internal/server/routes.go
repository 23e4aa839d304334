package server

import (
	"net/http"

	"github.com/cozy-creator/model-cache/internal/api"
	"github.com/cozy-creator/model-cache/internal/app"
	"github.com/gin-gonic/gin"
)

func (s *Server) SetupRoutes(app *app.App) {
	// Health check endpoint
	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := s.ginEngine.Group("/api/v1")

	apiV1.GET("/models", handlerWrapper(app, api.GetModel))
	apiV1.POST("/models/download", handlerWrapper(app, api.DownloadModel))
	apiV1.GET("/models/history", handlerWrapper(app, api.GetHistory))

	apiV1.POST("/cache/cleanup", handlerWrapper(app, api.CleanupCache))
	apiV1.POST("/cache/evict", handlerWrapper(app, api.EvictCache))
	apiV1.GET("/cache/usage", handlerWrapper(app, api.GetUsage))
}

func handlerWrapper(app *app.App, f func(c *gin.Context)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set("app", app)
		f(ctx)
	}
}
