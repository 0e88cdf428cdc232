package router

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wb-go/wbf/ginext"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/api/handlers/ingest"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/middleware"
)

// Setup registers the API routes and the metrics endpoint.
func Setup(h *ingest.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	metrics := promhttp.Handler()
	r.GET("/metrics", func(c *ginext.Context) {
		metrics.ServeHTTP(c.Writer, c.Request)
	})

	api := r.Group("/api")

	api.POST("/jobs", h.Submit)                    // submitting a batch
	api.GET("/jobs/:id", h.GetJob)                 // getting job state
	api.GET("/stats", h.Stats)                     // global queue stats
	api.GET("/sessions/:id/stats", h.SessionStats) // per-session stats
	api.DELETE("/sessions/:id", h.CancelSession)   // cancelling a session
	api.GET("/photos/:id", h.GetPhoto)             // getting a catalog record
	api.GET("/albums/:id/photos", h.ListAlbumPhotos)

	return r
}
