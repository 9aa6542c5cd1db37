package jobmodule

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the job module routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/jobs")
	{
		api.POST("", m.createJob)
		api.GET("", m.listJobs)

		api.GET("/:id/status", m.getJobStatus)
		api.GET("/:id/segments", m.getJobSegments)
		api.GET("/:id/timestamps", m.getJobTimestamps)
		api.GET("/:id/output", m.getJobOutput)
		api.POST("/:id/cancel", m.cancelJob)
	}

	// Real-time pipeline event stream
	router.GET("/api/events/ws", m.streamEvents)
}
