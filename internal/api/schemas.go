package api

import (
	"time"

	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/editor"
	"github.com/cutroom/cutroom-agent/internal/execution"
	"github.com/cutroom/cutroom-agent/internal/export"
	"github.com/cutroom/cutroom-agent/internal/rendergraph"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type QueueResponse struct {
	Paused bool `json:"paused"`
}

type StatusResponse struct {
	State         string                `json:"state"`
	LastError     string                `json:"last_error,omitempty"`
	AssetsCount   int                   `json:"assets_count"`
	ProjectsCount int                   `json:"projects_count"`
	OpenProjects  int                   `json:"open_projects"`
	JobsPending   int                   `json:"jobs_pending"`
	ActiveJob     *JobResponse          `json:"active_job,omitempty"`
	FFmpeg        *FFmpegStatusResponse `json:"ffmpeg,omitempty"`
}

type FFmpegStatusResponse struct {
	Version         string   `json:"version"`
	Ready           bool     `json:"ready"`
	MissingEncoders []string `json:"missing_encoders,omitempty"`
	MissingFilters  []string `json:"missing_filters,omitempty"`
	LastProbeAt     string   `json:"last_probe_at,omitempty"`
}

type ImportRequest struct {
	Path string `json:"path"`
}

type ImportResponse struct {
	Asset   *AssetResponse         `json:"asset,omitempty"`
	Summary *catalog.ImportSummary `json:"summary,omitempty"`
}

type AssetResponse struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Path      string  `json:"path"`
	Filename  string  `json:"filename"`
	Size      int64   `json:"size"`
	Duration  float64 `json:"duration"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	HasAudio  bool    `json:"has_audio"`
	Thumbnail bool    `json:"thumbnail"`
	CreatedAt string  `json:"created_at"`
}

type AssetsResponse struct {
	Assets []AssetResponse `json:"assets"`
}

type CreateProjectRequest struct {
	Name     string             `json:"name"`
	Document *timeline.Document `json:"document,omitempty"`
}

type RenameProjectRequest struct {
	Name string `json:"name"`
}

type ProjectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Revision  int64  `json:"revision"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type ProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

// ProjectStateResponse is a project with its live edit state.
type ProjectStateResponse struct {
	Project ProjectResponse `json:"project"`
	State   editor.State    `json:"state"`
}

// CommandsRequest applies one command, or several as one undoable batch.
type CommandsRequest struct {
	Label    string           `json:"label,omitempty"`
	Commands []editor.Command `json:"commands"`
}

type CommandsResponse struct {
	Results []editor.Result `json:"results"`
	State   editor.State    `json:"state"`
}

type GestureRequest struct {
	Label string `json:"label,omitempty"`
}

type GestureResponse struct {
	Recorded bool         `json:"recorded"`
	State    editor.State `json:"state"`
}

type CompileRequest struct {
	Options rendergraph.Options `json:"options"`
	FFmpeg  bool                `json:"ffmpeg,omitempty"` // include the ffmpeg argument list
}

type CompileResponse struct {
	Graph  *rendergraph.Graph `json:"graph"`
	FFmpeg []string           `json:"ffmpeg,omitempty"`
}

type EDLRequest struct {
	FrameRate float64 `json:"frame_rate,omitempty"`
	OutputDir string  `json:"output_dir,omitempty"` // write the file there instead of returning it
	FileName  string  `json:"file_name,omitempty"`
}

type EDLResponse struct {
	Format     string `json:"format"`
	EDL        string `json:"edl,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
}

type JobResponse struct {
	ID         string              `json:"id"`
	ProjectID  string              `json:"project_id"`
	Status     string              `json:"status"`
	OutputPath string              `json:"output_path"`
	Options    rendergraph.Options `json:"options"`
	Revision   int64               `json:"revision"`
	Progress   int                 `json:"progress"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  string              `json:"created_at"`
	UpdatedAt  string              `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Index *int   `json:"index,omitempty"` // failing command of a batch
}

func AssetToResponse(a *catalog.Asset) AssetResponse {
	return AssetResponse{
		ID:        a.ID,
		Kind:      string(a.Kind),
		Path:      a.Path,
		Filename:  a.Filename,
		Size:      a.Size,
		Duration:  a.Duration,
		Width:     a.Width,
		Height:    a.Height,
		HasAudio:  a.HasAudio,
		Thumbnail: a.Thumbnail != "",
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

func ProjectToResponse(p *catalog.Project) ProjectResponse {
	return ProjectResponse{
		ID:        p.ID,
		Name:      p.Name,
		Revision:  p.Revision,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		ProjectID:  j.ProjectID,
		Status:     j.Status,
		OutputPath: j.OutputPath,
		Options:    j.Options,
		Revision:   j.Revision,
		Progress:   j.Progress,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  j.UpdatedAt.Format(time.RFC3339),
	}
}

func CapabilitiesToResponse(c *execution.Capabilities) *FFmpegStatusResponse {
	resp := &FFmpegStatusResponse{
		Version:         c.Version,
		Ready:           c.Ready(),
		MissingEncoders: c.MissingEncoders,
		MissingFilters:  c.MissingFilters,
	}
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}

// eventMessage is one websocket frame of GET /exports/{id}/events.
type eventMessage struct {
	Type string `json:"type"` // "update" or "snapshot"
	export.Update
}
