package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/artifactd/internal/downloader"
	"github.com/italolelis/artifactd/internal/logctx"
	"github.com/italolelis/artifactd/internal/storage"
)

// Orchestrator is the part of the downloader the API drives.
type Orchestrator interface {
	Snapshot() downloader.Snapshot
	Retry() bool
}

type AssetLookup interface {
	LookupAsset(ctx context.Context, name string) (storage.AssetRecord, error)
}

type Asset struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
	Archive  string `json:"archive"`
}

type Download struct {
	RunID        string    `json:"run_id"`
	FileName     string    `json:"file_name"`
	Path         string    `json:"path"`
	SourceURI    string    `json:"source_uri"`
	Bytes        int64     `json:"bytes"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

type RetryResponse struct {
	Scheduled bool   `json:"scheduled"`
	State     string `json:"state"`
}

type StatusHandler struct {
	orchestrator Orchestrator
	assets       AssetLookup
	downloads    storage.DownloadReadRepository
	metrics      http.Handler
}

// NewStatusHandler creates the status API. Metrics may be nil.
func NewStatusHandler(o Orchestrator, assets AssetLookup, downloads storage.DownloadReadRepository, metrics http.Handler) *StatusHandler {
	return &StatusHandler{
		orchestrator: o,
		assets:       assets,
		downloads:    downloads,
		metrics:      metrics,
	}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.HandleHealth)
	r.Get("/status", h.HandleStatus)
	r.Post("/retry", h.HandleRetry)
	r.Get("/assets/{name}", h.HandleAsset)
	r.Get("/downloads", h.HandleDownloads)

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	return r
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleStatus returns the current progress snapshot.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, h.orchestrator.Snapshot())
}

// HandleRetry resumes a failed acquisition. It answers 409 when nothing failed.
func (h *StatusHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	if !h.orchestrator.Retry() {
		state := h.orchestrator.Snapshot().State

		logger.DebugContext(r.Context(), "retry requested while not failed", "state", state)
		writeJSON(r.Context(), w, http.StatusConflict, RetryResponse{Scheduled: false, State: state.String()})

		return
	}

	logger.InfoContext(r.Context(), "retry scheduled")
	writeJSON(r.Context(), w, http.StatusAccepted, RetryResponse{Scheduled: true, State: h.orchestrator.Snapshot().State.String()})
}

// HandleAsset looks an image up in the derived asset index.
func (h *StatusHandler) HandleAsset(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	name := chi.URLParam(r, "name")

	a, err := h.assets.LookupAsset(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "asset not found", http.StatusNotFound)

		return
	}

	if err != nil {
		logger.ErrorContext(r.Context(), "failed to look up asset", "name", name, "err", err)
		http.Error(w, "failed to look up asset", http.StatusInternalServerError)

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, Asset{Name: a.Name, Path: a.Path, MimeType: a.MimeType, Archive: a.Archive})
}

// HandleDownloads lists artifacts placed by this and earlier runs.
func (h *StatusHandler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	records, err := h.downloads.GetDownloads(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to list downloads", "err", err)
		http.Error(w, "failed to list downloads", http.StatusInternalServerError)

		return
	}

	out := make([]Download, 0, len(records))
	for _, rec := range records {
		out = append(out, Download{
			RunID:        rec.RunID,
			FileName:     rec.FileName,
			Path:         rec.Path,
			SourceURI:    rec.SourceURI,
			Bytes:        rec.Bytes,
			DownloadedAt: rec.DownloadedAt,
		})
	}

	writeJSON(r.Context(), w, http.StatusOK, out)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "err", err)
	}
}
