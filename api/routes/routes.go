package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/kbstack/kb-ingest/api/handlers"
	"github.com/kbstack/kb-ingest/api/middleware"
)

// SetupRoutes wires all endpoints.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	r.GET("/health", h.Ingestion.Health)

	v1 := r.Group("/api/v1")

	ing := v1.Group("/ingestion")
	ing.POST("/run", h.Ingestion.StartRun)
	ing.POST("/pause", h.Ingestion.Pause)
	ing.POST("/resume", h.Ingestion.Resume)
	ing.POST("/stop", h.Ingestion.Stop)
	ing.GET("/progress", h.Ingestion.Progress)
	ing.GET("/current", h.Ingestion.Current)
	ing.GET("/failures", h.Ingestion.Failures)
	ing.GET("/log", h.Ingestion.Log)
	ing.GET("/stats", h.Ingestion.Stats)

	v1.GET("/facets/:field", h.Ingestion.Facet)
}
