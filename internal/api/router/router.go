package router

import (
	"github.com/cuongbtq/video2audio/internal/api/handler"
	"github.com/gin-gonic/gin"
)

const serviceName = "video2audio-api"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.Health(deps.HealthChecks, serviceName))

	conversionHandler := handler.NewConversionHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(OwnerMiddleware())
	{
		conversions := v1.Group("/conversions")
		{
			// POST /api/v1/conversions - Upload a video for conversion
			conversions.POST("", conversionHandler.CreateConversion)

			// GET /api/v1/conversions - List the caller's conversions
			conversions.GET("", conversionHandler.ListConversions)

			// GET /api/v1/conversions/:job_id - Get conversion status
			conversions.GET("/:job_id", conversionHandler.GetConversion)

			// GET /api/v1/conversions/:job_id/download - Stream the converted audio
			conversions.GET("/:job_id/download", conversionHandler.DownloadConversion)
		}
	}

	return r
}
