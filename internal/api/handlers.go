package api

import (
	"log/slog"
	"net/http"

	"clipforge/internal/clipper"
	"clipforge/internal/objectstore"
	"clipforge/internal/progress"
	"clipforge/internal/render"
	"clipforge/internal/storage"
)

type Handler struct {
	Store      storage.Repository
	Progress   progress.Store
	Cutter     clipper.Client
	Objects    objectstore.Client
	Render     *render.Client
	RenderGate *render.Limiter
	Processor  *JobProcessor
	Logger     *slog.Logger
}

func NewHandler(store storage.Repository, progressStore progress.Store) *Handler {
	return &Handler{Store: store, Progress: progressStore, Logger: slog.Default()}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	components, status, statusCode := h.componentHealth(r.Context())
	writeJSON(w, statusCode, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}
