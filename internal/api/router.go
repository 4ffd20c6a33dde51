package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyuraku/snapresize-ai/internal/api/middleware"
)

// NewRouter wires the UI-facing routes behind trace/logging/recovery
// middleware.
func NewRouter(h *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.TraceID,
		middleware.Logging(logger),
		middleware.Recovery(logger),
	)

	r.Get("/health", h.Health)

	r.Route("/files", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/", h.ListFiles)
		r.Delete("/", h.ClearFiles)
		r.Delete("/{id}", h.RemoveFile)
		r.Get("/{id}/thumbnail", h.Thumbnail)
	})

	r.Get("/settings", h.GetSettings)
	r.Patch("/settings", h.UpdateSettings)

	r.Get("/model", h.ModelState)
	r.Get("/model/cache", h.ModelCache)
	r.Delete("/model/cache", h.ClearModelCache)

	r.Get("/memory", h.Memory)
	r.Get("/estimate", h.Estimate)

	r.Post("/process", h.Process)

	r.Get("/processed", h.ListProcessed)
	r.Get("/download", h.Download)

	return r
}
