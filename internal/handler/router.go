package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stroymat/matrag/internal/middleware"
)

type RouterDeps struct {
	Materials *MaterialHandler
	Batches   *BatchHandler
	Search    *SearchHandler
	Health    *HealthHandler
	AIWindow  time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", deps.Health.Health)

	materials := api.Group("/materials")
	materials.GET("/batch/:id", deps.Batches.Get)
	materials.GET("/search", deps.Search.Search)
	materials.GET("/:id", deps.Materials.Get)
	materials.DELETE("/:id", deps.Materials.Delete)

	aiGroup := materials.Group("")
	aiGroup.Use(middleware.RateLimit(deps.AIWindow))
	aiGroup.POST("/parse", deps.Materials.Parse)
	aiGroup.POST("/process", deps.Materials.Process)
	aiGroup.POST("/process-enhanced", deps.Materials.ProcessEnhanced)
	aiGroup.POST("/batch", deps.Batches.Submit)
	aiGroup.POST("/batch/upload", deps.Batches.Upload)
	aiGroup.POST("/batch/:id/retry", deps.Batches.Retry)
}
