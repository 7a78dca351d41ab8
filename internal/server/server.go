// Package server is the thin HTTP boundary over the pipeline: health,
// read-only listings, and manual triggers for capture, generation, and
// cleanup.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/camlapse/camlapse/internal/capture"
	"github.com/camlapse/camlapse/internal/cleanup"
	"github.com/camlapse/camlapse/internal/collection"
	"github.com/camlapse/camlapse/internal/db"
	"github.com/camlapse/camlapse/internal/diskstat"
	"github.com/camlapse/camlapse/internal/model"
	"github.com/camlapse/camlapse/internal/scheduler"
)

// staleHeartbeat marks the worker unhealthy when the last beat is older
// than this.
const staleHeartbeat = 2 * time.Minute

type Handler struct {
	DB        *sql.DB
	Capture   *capture.Controller
	Machine   *collection.Machine
	Sweeper   *cleanup.Sweeper
	Disk      *diskstat.Cache
	Scheduler *scheduler.Scheduler
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/cameras", h.ListCameras)
		r.Post("/cameras/{id}/capture", h.TriggerCapture)

		r.Get("/configs", h.ListConfigs)
		r.Post("/configs/{id}/start-collection", h.StartCollection)
		r.Post("/configs/{id}/cancel-collection", h.CancelCollection)
		r.Post("/configs/{id}/generate", h.Generate)

		r.Post("/cleanup/{scope}", h.RunCleanup)
		r.Get("/cleanup/log", h.CleanupLog)

		r.Get("/storage", h.Storage)
	})

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	beat := h.Scheduler.Heartbeat()
	healthy := time.Since(beat) < staleHeartbeat
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy":        healthy,
		"last_heartbeat": beat.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ListCameras(w http.ResponseWriter, r *http.Request) {
	cameras, err := db.ListCameras(h.DB)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list cameras failed")
		slog.Error("list cameras", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cameras": cameras})
}

func (h *Handler) TriggerCapture(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.Capture.CaptureCamera(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "capture failed")
		slog.Error("manual capture", "error", err)
		return
	}
	if outcome == nil {
		writeError(w, http.StatusNotFound, "camera not found")
		return
	}
	if !outcome.Success {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   outcome.Err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"frame":   outcome.Frame,
	})
}

func (h *Handler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := db.ListEnabledConfigs(h.DB)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list configs failed")
		slog.Error("list configs", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"configs": configs})
}

func (h *Handler) StartCollection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Days int `json:"days"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	cfg, err := h.Machine.StartCollection(chi.URLParam(r, "id"), body.Days)
	if err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"config": cfg})
}

func (h *Handler) CancelCollection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Unprotect bool `json:"unprotect"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	if err := h.Machine.CancelCollection(chi.URLParam(r, "id"), body.Unprotect); err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cancelled": true})
}

// Generate kicks off a multiday encode asynchronously and returns 202. The
// config's busy guard rejects a second trigger while one runs.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cfg, err := db.GetConfig(h.DB, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if cfg == nil {
		writeError(w, http.StatusNotFound, "config not found")
		return
	}

	go func() {
		if _, err := h.Machine.Generate(context.Background(), id); err != nil {
			slog.Error("manual generation", "config", id, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true})
}

// RunCleanup triggers one retention sweep. An optional camera_id query
// parameter restricts the sweep to a single camera.
func (h *Handler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	cameraID := r.URL.Query().Get("camera_id")

	var report *model.CleanupReport
	var err error
	switch chi.URLParam(r, "scope") {
	case model.CleanupScopeImages:
		report, err = h.Sweeper.SweepImages(cameraID)
	case model.CleanupScopeVideos:
		report, err = h.Sweeper.SweepVideos(cameraID)
	default:
		writeError(w, http.StatusBadRequest, "unknown cleanup scope")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		slog.Error("manual cleanup", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"report": report})
}

func (h *Handler) CleanupLog(w http.ResponseWriter, r *http.Request) {
	reports, err := db.ListCleanupLog(h.DB, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list cleanup log failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"log": reports})
}

func (h *Handler) Storage(w http.ResponseWriter, r *http.Request) {
	stats := h.Disk.Get()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_bytes":  stats.TotalBytes,
		"free_bytes":   stats.FreeBytes,
		"images_bytes": stats.ImagesBytes,
		"videos_bytes": stats.VideosBytes,
		"pct_used":     stats.PctUsed(),
		"captured_at":  stats.CapturedAt.UTC().Format(time.RFC3339),
	})
}

func writeMachineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, collection.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, collection.ErrConflict), errors.Is(err, collection.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, collection.ErrNoFrames):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "operation failed")
		slog.Error("collection operation", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
