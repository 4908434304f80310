package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/logging"
)

const maxBodyBytes = 4 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.WithComponent(logging.Discard(cfg.Logger), "api")
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	r.With(LoopbackGuard()).Handle("/metrics", cfg.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Token, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/queue/{action}", queueHandler(cfg))

		r.Get("/assets", listAssetsHandler(cfg))
		r.Post("/assets", importHandler(cfg))
		r.Get("/assets/{id}", getAssetHandler(cfg))
		r.Delete("/assets/{id}", deleteAssetHandler(cfg))
		r.With(LoopbackGuard()).Get("/assets/{id}/media", assetMediaHandler(cfg, false))
		r.With(LoopbackGuard()).Head("/assets/{id}/media", assetMediaHandler(cfg, false))
		r.With(LoopbackGuard()).Get("/assets/{id}/thumbnail", assetMediaHandler(cfg, true))

		r.Get("/projects", listProjectsHandler(cfg))
		r.Post("/projects", createProjectHandler(cfg))
		r.Route("/projects/{id}", func(r chi.Router) {
			r.Get("/", getProjectHandler(cfg))
			r.Put("/", renameProjectHandler(cfg))
			r.Delete("/", deleteProjectHandler(cfg))
			r.Post("/commands", commandsHandler(cfg))
			r.Post("/undo", undoHandler(cfg))
			r.Post("/redo", redoHandler(cfg))
			r.Post("/gesture/{action}", gestureHandler(cfg))
			r.Post("/compile", compileHandler(cfg))
			r.Post("/exports", submitExportHandler(cfg))
			r.Post("/edl", edlHandler(cfg))
		})

		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Delete("/exports/{id}", cancelExportHandler(cfg))
		r.Get("/exports/{id}/events", exportEventsHandler(cfg))
		r.With(LoopbackGuard()).Get("/exports/{id}/download", downloadHandler(cfg))
		r.With(LoopbackGuard()).Head("/exports/{id}/download", downloadHandler(cfg))
	})

	return r
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		assets, _ := cfg.Catalog.CountAssets(ctx)
		projects, _ := cfg.Catalog.ListProjects(ctx)
		jobs, _ := cfg.Exports.List(ctx, 20)

		resp := StatusResponse{
			State:         "idle",
			AssetsCount:   assets,
			ProjectsCount: len(projects),
		}
		if cfg.Editor != nil {
			resp.OpenProjects = cfg.Editor.OpenCount()
		}

		summary := catalog.SummarizeJobs(jobs)
		resp.JobsPending = summary.Pending
		resp.LastError = summary.LastError
		if summary.Active != nil {
			active := JobToResponse(summary.Active)
			resp.ActiveJob = &active
			resp.State = "exporting"
		}
		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			resp.State = "paused"
		}
		if resp.State == "idle" && summary.LastFailed {
			resp.State = "error"
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.FFmpeg = CapabilitiesToResponse(caps)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

// queueHandler pauses or resumes the export queue. A running export is not
// interrupted by a pause.
func queueHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "export queue is not running", "QUEUE_UNAVAILABLE")
			return
		}
		switch chi.URLParam(r, "action") {
		case "pause":
			cfg.Runner.Pause()
		case "resume":
			cfg.Runner.Resume()
		default:
			WriteError(w, http.StatusNotFound, "unknown queue action", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, QueueResponse{Paused: cfg.Runner.IsPaused()})
	}
}

func listAssetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assets, err := cfg.Catalog.ListAssets(r.Context())
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}

		resp := AssetsResponse{Assets: make([]AssetResponse, len(assets))}
		for i, a := range assets {
			resp.Assets[i] = AssetToResponse(a)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// importHandler imports one file, or every media file below a directory.
func importHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		req.Path = strings.TrimSpace(req.Path)
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		info, err := os.Stat(req.Path)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "path does not exist", "BAD_REQUEST")
			return
		}

		if info.IsDir() {
			summary, err := cfg.Catalog.ImportFolder(r.Context(), req.Path)
			if err != nil {
				WriteServiceError(w, cfg.Logger, err)
				return
			}
			WriteJSON(w, http.StatusOK, ImportResponse{Summary: &summary})
			return
		}

		asset, err := cfg.Catalog.ImportAsset(r.Context(), req.Path)
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		resp := AssetToResponse(asset)
		WriteJSON(w, http.StatusCreated, ImportResponse{Asset: &resp})
	}
}

func getAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asset, err := cfg.Catalog.GetAsset(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, AssetToResponse(asset))
	}
}

func deleteAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Catalog.RemoveAsset(r.Context(), chi.URLParam(r, "id")); err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func assetMediaHandler(cfg ServerConfig, thumbnail bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		asset, err := cfg.Catalog.GetAsset(r.Context(), id)
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}

		path := asset.Path
		if thumbnail {
			if asset.Thumbnail == "" {
				WriteError(w, http.StatusNotFound, "asset has no thumbnail", "NOT_FOUND")
				return
			}
			path = asset.Thumbnail
		}
		if err := cfg.Playback.ServeFile(w, r, path); err != nil {
			cfg.Logger.Error("media playback error", "error", err, "asset_id", id)
		}
	}
}
