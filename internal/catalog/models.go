// Package catalog stores the media library, projects, their undo history and
// export jobs in SQLite, and runs queued export jobs.
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cutroom/cutroom-agent/internal/media"
	"github.com/cutroom/cutroom-agent/internal/rendergraph"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrRevisionConflict = errors.New("project was modified concurrently")
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// Asset is an imported media file.
type Asset struct {
	ID          string     `json:"id"`
	Kind        media.Kind `json:"kind"`
	Path        string     `json:"path"`
	Filename    string     `json:"filename"`
	Size        int64      `json:"size"`
	Fingerprint string     `json:"fingerprint"`
	Duration    float64    `json:"duration"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	HasAudio    bool       `json:"has_audio"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// LibraryClip returns the asset in project document form.
func (a *Asset) LibraryClip() timeline.LibraryClip {
	return timeline.LibraryClip{
		ID:       a.ID,
		Name:     a.Filename,
		Path:     a.Path,
		Kind:     string(a.Kind),
		Duration: a.Duration,
		Width:    a.Width,
		Height:   a.Height,
		HasAudio: a.HasAudio,
	}
}

// Source returns the asset as a render source.
func (a *Asset) Source() rendergraph.Source {
	return rendergraph.Source{Path: a.Path, HasAudio: a.HasAudio, Still: a.Kind == media.KindImage}
}

// Project is a saved timeline. The document itself is stored as a blob.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Revision  int64     `json:"revision"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Job is a queued or finished export.
type Job struct {
	ID         string              `json:"id"`
	ProjectID  string              `json:"project_id"`
	Status     string              `json:"status"`
	OutputPath string              `json:"output_path"`
	Options    rendergraph.Options `json:"options"`
	Revision   int64               `json:"revision"`
	Progress   int                 `json:"progress"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Finished reports whether the job reached a terminal status.
func (j *Job) Finished() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// QueueSummary describes the export queue.
type QueueSummary struct {
	Pending    int
	Active     *Job   // first running job, if any
	LastError  string // error of the newest failed job
	LastFailed bool   // the newest job failed
}

// SummarizeJobs summarizes jobs, which are ordered newest first.
func SummarizeJobs(jobs []*Job) QueueSummary {
	var s QueueSummary
	for _, j := range jobs {
		switch j.Status {
		case JobStatusPending:
			s.Pending++
		case JobStatusRunning:
			if s.Active == nil {
				s.Active = j
			}
		case JobStatusFailed:
			if s.LastError == "" {
				s.LastError = j.Error
			}
		}
	}
	s.LastFailed = len(jobs) > 0 && jobs[0].Status == JobStatusFailed
	return s
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func NewID() string {
	return uuid.NewString()
}
