// Package execution runs compiled render graphs with ffmpeg and reports
// progress and the outcome as a stream of events.
package execution

import (
	"context"
	"time"

	"github.com/cutroom/cutroom-agent/internal/rendergraph"
)

// EventType distinguishes progress from terminal events.
type EventType string

const (
	EventProgress EventType = "progress"
	EventSuccess  EventType = "success"
	EventFailure  EventType = "failure"
)

// Event is one execution report. A stream carries zero or more progress
// events followed by exactly one success or failure.
type Event struct {
	Type       EventType `json:"type"`
	Percent    float64   `json:"percent,omitempty"`
	OutputPath string    `json:"outputPath,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// ProgressEvent reports percent complete.
func ProgressEvent(percent float64) Event {
	return Event{Type: EventProgress, Percent: percent}
}

// SuccessEvent reports the finished output.
func SuccessEvent(path string) Event {
	return Event{Type: EventSuccess, Percent: 100, OutputPath: path}
}

// FailureEvent reports a failed execution.
func FailureEvent(message string) Event {
	return Event{Type: EventFailure, Message: message}
}

// Terminal reports whether e ends a stream.
func (e Event) Terminal() bool {
	return e.Type == EventSuccess || e.Type == EventFailure
}

// Executor runs a render graph to an output file. The returned channel is
// closed after the terminal event; callers must drain it.
type Executor interface {
	Execute(ctx context.Context, g *rendergraph.Graph, target string) (<-chan Event, error)
}

// RunResult captures a finished subprocess.
type RunResult struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

// IsSuccess reports whether the process exited cleanly.
func (r RunResult) IsSuccess() bool {
	return r.ExitCode == 0
}

// Capabilities describes the installed ffmpeg.
type Capabilities struct {
	Version         string          `json:"version"`
	Encoders        map[string]bool `json:"-"`
	Filters         map[string]bool `json:"-"`
	MissingEncoders []string        `json:"missingEncoders,omitempty"`
	MissingFilters  []string        `json:"missingFilters,omitempty"`
	ProbedAt        time.Time       `json:"probedAt"`
}

// Ready reports whether every required encoder and filter is present.
func (c *Capabilities) Ready() bool {
	return c != nil && len(c.MissingEncoders) == 0 && len(c.MissingFilters) == 0
}
