// Package api is the local UI boundary: a loopback HTTP surface over the
// store and orchestrator. It performs no processing of its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyuraku/snapresize-ai/internal/api/middleware"
	"github.com/hyuraku/snapresize-ai/internal/capability"
	"github.com/hyuraku/snapresize-ai/internal/export"
	"github.com/hyuraku/snapresize-ai/internal/memory"
	"github.com/hyuraku/snapresize-ai/internal/modelcache"
	"github.com/hyuraku/snapresize-ai/internal/models"
	"github.com/hyuraku/snapresize-ai/internal/presets"
	"github.com/hyuraku/snapresize-ai/internal/processor"
	"github.com/hyuraku/snapresize-ai/internal/store"
)

type Handler struct {
	store     *store.Store
	processor *processor.Processor
	loader    *modelcache.Loader
	monitor   *memory.Monitor
	detector  *capability.Detector
	logger    *zap.Logger
}

func NewHandler(
	st *store.Store,
	proc *processor.Processor,
	loader *modelcache.Loader,
	monitor *memory.Monitor,
	detector *capability.Detector,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		store:     st,
		processor: proc,
		loader:    loader,
		monitor:   monitor,
		detector:  detector,
		logger:    logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Upload accepts multipart files under the "files" field and enqueues them.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		h.handleError(w, r, "Failed to parse form", err, http.StatusBadRequest)
		return
	}

	var candidates []store.FileInput
	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			h.handleError(w, r, "Failed to open upload", err, http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			h.handleError(w, r, "Failed to read upload", err, http.StatusBadRequest)
			return
		}
		candidates = append(candidates, store.FileInput{
			Name:     header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	result := h.store.AddFiles(candidates)

	resp := AddFilesResponse{Added: result.Added, Rejected: []RejectedResponse{}}
	for _, rej := range result.Rejected {
		resp.Rejected = append(resp.Rejected, RejectedResponse{Name: rej.Name, Error: rej.Reason})
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files := h.store.Files()
	resp := make([]FileResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, FileResponse{
			ID:       f.ID,
			Name:     f.Name,
			Size:     f.Size,
			MimeType: f.MimeType,
			Status:   string(f.Status),
			Progress: f.Progress,
			Error:    f.Error,
		})
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	h.store.RemoveFile(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearFiles(w http.ResponseWriter, r *http.Request) {
	h.store.ClearFiles()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	file, ok := h.store.File(chi.URLParam(r, "id"))
	if !ok || file.Thumbnail == nil {
		h.handleError(w, r, "Thumbnail not found", nil, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(file.Thumbnail)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.settingsResponse())
}

// UpdateSettings applies a partial settings mutation through the store's
// operations; toggling background removal also drives the worker lifecycle.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, "Invalid settings payload", err, http.StatusBadRequest)
		return
	}

	if req.Preset != nil {
		h.store.SetPreset(models.PresetKey(*req.Preset))
	}
	if req.CustomWidth != nil || req.CustomHeight != nil {
		current := h.store.Settings()
		width, height := current.CustomWidth, current.CustomHeight
		if req.CustomWidth != nil {
			width = *req.CustomWidth
		}
		if req.CustomHeight != nil {
			height = *req.CustomHeight
		}
		h.store.SetCustomSize(width, height)
	}
	if req.Quality != nil {
		h.store.SetQuality(*req.Quality)
	}
	if req.EnableWatermark != nil || req.WatermarkText != nil || req.WatermarkPosition != nil {
		current := h.store.Settings()
		enabled := current.EnableWatermark
		if req.EnableWatermark != nil {
			enabled = *req.EnableWatermark
		}
		text := ""
		if req.WatermarkText != nil {
			text = *req.WatermarkText
		}
		position := models.WatermarkPosition("")
		if req.WatermarkPosition != nil {
			position = models.WatermarkPosition(*req.WatermarkPosition)
		}
		h.store.SetWatermark(enabled, text, position)
	}
	if req.BackgroundRemoval != nil {
		h.processor.SetBackgroundRemoval(*req.BackgroundRemoval)
	}

	h.respondJSON(w, http.StatusOK, h.settingsResponse())
}

func (h *Handler) settingsResponse() SettingsResponse {
	s := h.store.Settings()
	return SettingsResponse{
		Preset:            string(s.Preset),
		CustomWidth:       s.CustomWidth,
		CustomHeight:      s.CustomHeight,
		Quality:           s.Quality,
		EnableWatermark:   s.EnableWatermark,
		WatermarkText:     s.WatermarkText,
		WatermarkPosition: string(s.WatermarkPosition),
		BackgroundRemoval: s.EnableBackgroundRemoval,
	}
}

func (h *Handler) ModelState(w http.ResponseWriter, r *http.Request) {
	state := h.store.ModelState()
	h.respondJSON(w, http.StatusOK, ModelStateResponse{
		Status:   string(state.Status),
		Progress: state.Progress,
		Message:  state.Message,
		Device:   string(state.Device),
	})
}

// ModelCache reports whether the model is durably cached and how expensive a
// fetch would be.
func (h *Handler) ModelCache(w http.ResponseWriter, r *http.Request) {
	resp := ModelCacheResponse{
		Cached:                   h.loader.IsModelCached(),
		SizeEstimate:             h.loader.GetModelSizeEstimate(),
		EstimatedDownloadSeconds: h.loader.GetEstimatedDownloadTime(0),
	}
	if cachedAt, ok := h.loader.CachedAt(); ok {
		resp.CachedAt = cachedAt.Format(time.RFC3339)
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// ClearModelCache removes the durable model cache on explicit user action.
func (h *Handler) ClearModelCache(w http.ResponseWriter, r *http.Request) {
	if err := h.loader.ClearCache(); err != nil {
		h.handleError(w, r, "Failed to clear model cache", err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Memory(w http.ResponseWriter, r *http.Request) {
	d := h.monitor.Diagnostics()
	h.respondJSON(w, http.StatusOK, MemoryResponse{
		CurrentUsage:     d.CurrentUsage,
		CurrentUsageText: memory.FormatBytes(d.CurrentUsage),
		MaxBytes:         d.MaxBytes,
		UsageRatio:       d.UsageRatio,
		Warning:          d.IsWarning,
		TrackedResources: d.TrackedResources,
	})
}

// Estimate forecasts the batch duration for the pending queue on the detected
// backend. Purely informational.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	pending := len(h.store.PendingIDs())

	if !h.store.Settings().EnableBackgroundRemoval {
		// Resize-only passes take about a second per file.
		h.respondJSON(w, http.StatusOK, EstimateResponse{
			Files:            pending,
			Backend:          string(models.BackendNone),
			EstimatedSeconds: pending,
			EstimatedText:    fmt.Sprintf("~%ds", pending),
		})
		return
	}

	backend := h.detector.DetectBestBackend(r.Context()).Backend
	h.respondJSON(w, http.StatusOK, EstimateResponse{
		Files:            pending,
		Backend:          string(backend),
		EstimatedSeconds: presets.EstimateProcessingTime(backend, pending),
		EstimatedText:    presets.EstimatedTimeString(backend, pending),
	})
}

// Process starts a batch pass in the background. A pass already in flight
// yields 409.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	if h.store.IsProcessing() {
		h.handleError(w, r, "A processing pass is already running", processor.ErrAlreadyProcessing, http.StatusConflict)
		return
	}

	// The pass outlives this request, so it runs on its own context.
	go func() {
		if err := h.processor.ProcessAll(context.Background()); err != nil && !errors.Is(err, processor.ErrAlreadyProcessing) {
			h.logger.Warn("Batch processing ended with error", zap.Error(err))
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) ListProcessed(w http.ResponseWriter, r *http.Request) {
	processed := h.store.Processed()
	resp := make([]ProcessedResponse, 0, len(processed))
	for _, p := range processed {
		resp = append(resp, ProcessedResponse{
			ID:         p.ID,
			OriginalID: p.OriginalID,
			Name:       p.Name,
			Size:       len(p.Data),
			Preset:     string(p.Preset.Key),
		})
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// Download streams the completed outputs: one file directly, several as a ZIP.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	processed := h.store.Processed()
	if len(processed) == 0 {
		h.handleError(w, r, "No processed images", nil, http.StatusNotFound)
		return
	}

	if len(processed) == 1 {
		img := processed[0]
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="`+img.Name+`"`)
		w.Write(img.Data)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.ArchiveName(time.Now())+`"`)
	if err := export.WriteArchive(w, processed, nil); err != nil {
		h.logger.Error("Archive streaming failed", zap.Error(err))
	}
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, message string, err error, status int) {
	traceID := middleware.GetTraceID(r.Context())
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)
	h.respondJSON(w, status, ErrorResponse{Error: message, TraceID: traceID})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
