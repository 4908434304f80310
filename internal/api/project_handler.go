package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/cutroom/cutroom-agent/internal/editor"
	"github.com/cutroom/cutroom-agent/internal/export"
	"github.com/cutroom/cutroom-agent/internal/rendergraph"
)

const defaultEDLFrameRate = 30.0

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.Catalog.ListProjects(r.Context())
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}

		resp := ProjectsResponse{Projects: make([]ProjectResponse, len(projects))}
		for i, p := range projects {
			resp.Projects[i] = ProjectToResponse(p)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		p, err := cfg.Catalog.CreateProject(r.Context(), req.Name, req.Document)
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ProjectToResponse(p))
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		p, err := cfg.Catalog.GetProject(r.Context(), id)
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		sess, err := cfg.Editor.Open(r.Context(), id)
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		state := sess.State()
		if state.Revision > p.Revision {
			p.Revision = state.Revision
		}
		WriteJSON(w, http.StatusOK, ProjectStateResponse{Project: ProjectToResponse(p), State: state})
	}
}

func renameProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RenameProjectRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		p, err := cfg.Catalog.RenameProject(r.Context(), chi.URLParam(r, "id"), req.Name)
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(p))
	}
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Catalog.DeleteProject(r.Context(), id); err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		cfg.Editor.Forget(id)
		w.WriteHeader(http.StatusNoContent)
	}
}

// withSession opens the session named by the {id} route parameter.
func withSession(cfg ServerConfig, fn func(w http.ResponseWriter, r *http.Request, sess *editor.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := cfg.Editor.Open(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		fn(w, r, sess)
	}
}

// commandsHandler applies a single command directly and several as one
// atomic batch with a single history entry.
func commandsHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
		var req CommandsRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "BAD_REQUEST")
			return
		}
		if len(req.Commands) == 0 {
			WriteError(w, http.StatusBadRequest, "commands must not be empty", "BAD_REQUEST")
			return
		}

		var results []editor.Result
		var err error
		if len(req.Commands) == 1 && req.Label == "" {
			var res editor.Result
			res, err = sess.Apply(r.Context(), req.Commands[0])
			results = []editor.Result{res}
		} else {
			results, err = sess.ApplyBatch(r.Context(), req.Label, req.Commands)
		}
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, CommandsResponse{Results: results, State: sess.State()})
	})
}

func undoHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
		if _, err := sess.Undo(r.Context()); err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, sess.State())
	})
}

func redoHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
		if _, err := sess.Redo(r.Context()); err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, sess.State())
	})
}

func gestureHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
		var req GestureRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		var recorded bool
		var err error
		switch action := chi.URLParam(r, "action"); action {
		case "begin":
			err = sess.BeginGesture(req.Label)
		case "end":
			recorded, err = sess.EndGesture(r.Context())
		case "cancel":
			err = sess.CancelGesture()
		default:
			WriteError(w, http.StatusNotFound, "unknown gesture action "+action, "NOT_FOUND")
			return
		}
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, GestureResponse{Recorded: recorded, State: sess.State()})
	})
}

// compileHandler compiles the live session state, including an unfinished
// gesture, without saving anything.
func compileHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
		req := CompileRequest{Options: rendergraph.DefaultOptions()}
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "BAD_REQUEST")
			return
		}

		g, err := cfg.Exports.CompileDocument(r.Context(), sess.Document(), req.Options)
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}

		resp := CompileResponse{Graph: g}
		if req.FFmpeg {
			inv, err := g.FFmpeg()
			if err != nil {
				WriteServiceError(w, cfg.Logger, err)
				return
			}
			resp.FFmpeg = inv.Args()
		}
		WriteJSON(w, http.StatusOK, resp)
	})
}

func submitExportHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
		req := export.Request{Options: rendergraph.DefaultOptions()}
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "BAD_REQUEST")
			return
		}
		// Exports read the stored revision; save anything a failed autosave left behind.
		if err := sess.Flush(r.Context()); err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}

		job, err := cfg.Exports.Submit(r.Context(), sess.ProjectID(), req)
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	})
}

func edlHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
		var req EDLRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.FrameRate <= 0 {
			req.FrameRate = defaultEDLFrameRate
		}
		if err := sess.Flush(r.Context()); err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}

		edl, err := cfg.Exports.EDL(r.Context(), sess.ProjectID(), req.FrameRate)
		if err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		if req.OutputDir == "" {
			WriteJSON(w, http.StatusOK, EDLResponse{Format: "edl", EDL: edl})
			return
		}

		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			WriteServiceError(w, cfg.Logger, err)
			return
		}
		name := req.FileName
		if name == "" {
			p, err := cfg.Catalog.GetProject(r.Context(), sess.ProjectID())
			if err != nil {
				WriteServiceError(w, cfg.Logger, err)
				return
			}
			name = p.Name
		}
		outputPath := edlPath(req.OutputDir, name)
		if err := os.WriteFile(outputPath, []byte(edl), 0o644); err != nil {
			cfg.Logger.Error("failed to write edl", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, EDLResponse{Format: "edl", OutputPath: outputPath})
	})
}

func edlPath(dir, name string) string {
	base := export.SanitizeName(name, 120)
	if base == "" {
		base = "cutroom_export"
	}
	if filepath.Ext(base) != ".edl" {
		base += ".edl"
	}
	return filepath.Join(dir, base)
}
