package router

import (
	"github.com/cuongbtq/chapterize/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	jobHandler := handler.NewJobHandler(deps)

	r.GET("/health", jobHandler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/services/status", jobHandler.ServicesStatus)

		jobs := v1.Group("/jobs")
		{
			// single-job boundary: 409 while a job is running
			jobs.POST("", jobHandler.CreateJob)
			jobs.POST("/retry", jobHandler.RetryJob)
			jobs.GET("/current", jobHandler.CurrentJob)
		}
	}

	return r
}
