// Package export queues, compiles and renders project exports, and writes
// edit decision lists of the main track.
package export

import (
	"errors"

	"github.com/cutroom/cutroom-agent/internal/rendergraph"
)

var (
	ErrExportBusy  = errors.New("another export is running")
	ErrJobFinished = errors.New("export already finished")
)

// Request describes an export to queue.
type Request struct {
	OutputDir string              `json:"output_dir,omitempty"` // default: configured exports dir
	FileName  string              `json:"file_name,omitempty"`  // default: project name
	Options   rendergraph.Options `json:"options"`
}

// Update is one export event delivered to subscribers.
type Update struct {
	JobID      string   `json:"job_id"`
	Status     string   `json:"status"`
	Percent    float64  `json:"percent"`
	OutputPath string   `json:"output_path,omitempty"`
	Message    string   `json:"message,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// EDLClip is one main-track event of an edit decision list.
type EDLClip struct {
	ClipName  string
	MediaPath string
	SourceIn  float64 // seconds
	SourceOut float64
	RecordIn  float64 // timeline start time
	HasAudio  bool
	Filter    string
}
