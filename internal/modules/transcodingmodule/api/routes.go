package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the job API.
//
// API Structure:
//
//	/api/v1
//	├── /health                - Liveness
//	└── /jobs
//	    ├── POST   /           - Submit a job
//	    ├── GET    /           - List jobs
//	    ├── GET    /events     - WebSocket stream of job events
//	    ├── GET    /:id        - Job details
//	    ├── DELETE /:id        - Cancel a job
//	    └── GET    /:id/clearkey - ClearKey license of an encrypted job
func RegisterRoutes(router *gin.Engine, handler *APIHandler, eventsHandler *EventsHandler) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handler.Health)

		jobs := v1.Group("/jobs")
		{
			jobs.POST("", handler.SubmitJob)
			jobs.GET("", handler.ListJobs)
			if eventsHandler != nil {
				jobs.GET("/events", eventsHandler.Stream)
			}
			jobs.GET("/:id", handler.GetJob)
			jobs.DELETE("/:id", handler.CancelJob)
			jobs.GET("/:id/clearkey", handler.GetLicense)
		}
	}
}
