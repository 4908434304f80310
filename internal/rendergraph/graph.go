package rendergraph

import (
	"fmt"

	"github.com/cutroom/cutroom-agent/internal/faults"
)

// StageKind names a processing step.
type StageKind string

const (
	StageInput       StageKind = "input"
	StageSilence     StageKind = "silence"
	StageTrimVideo   StageKind = "trim_video"
	StageTrimAudio   StageKind = "trim_audio"
	StageConcat      StageKind = "concat"
	StageOverlayPrep StageKind = "overlay_prep"
	StageComposite   StageKind = "composite"
	StageScalePad    StageKind = "scale_pad"
	StageMux         StageKind = "mux"
)

// Params holds the settings of a stage. Only the fields relevant to the
// stage kind are set.
type Params struct {
	// input
	InputIndex int    `json:"inputIndex,omitempty"`
	SourceRef  string `json:"sourceRef,omitempty"`
	Path       string `json:"path,omitempty"`
	Still      bool   `json:"still,omitempty"`

	// trim_video, trim_audio, silence
	ClipID    string      `json:"clipId,omitempty"`
	Start     float64     `json:"start,omitempty"`
	End       float64     `json:"end,omitempty"`
	Filter    string      `json:"filter,omitempty"`
	Muted     bool        `json:"muted,omitempty"`
	Normalize *Dimensions `json:"normalize,omitempty"`

	// concat
	Segments int  `json:"segments,omitempty"`
	Audio    bool `json:"audio,omitempty"`

	// overlay_prep, composite
	OverlayID string  `json:"overlayId,omitempty"`
	Opacity   float64 `json:"opacity,omitempty"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
	PassMain  bool    `json:"passMain,omitempty"`

	// scale_pad
	Target *Dimensions `json:"target,omitempty"`

	// mux
	Duration float64 `json:"duration,omitempty"`
}

// Stage is one node of the render graph. Inputs and Outputs are symbolic
// stream labels.
type Stage struct {
	ID      int       `json:"id"`
	Kind    StageKind `json:"kind"`
	Inputs  []string  `json:"inputs,omitempty"`
	Outputs []string  `json:"outputs,omitempty"`
	Params  Params    `json:"params"`
}

// Graph is an ordered stage list ending in a mux stage.
type Graph struct {
	Stages     []Stage    `json:"stages"`
	Dimensions Dimensions `json:"dimensions"`
	Duration   float64    `json:"duration"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// Terminal returns the mux stage.
func (g *Graph) Terminal() (Stage, bool) {
	if len(g.Stages) == 0 || g.Stages[len(g.Stages)-1].Kind != StageMux {
		return Stage{}, false
	}
	return g.Stages[len(g.Stages)-1], true
}

// StagesOf returns the stages of kind in order.
func (g *Graph) StagesOf(kind StageKind) []Stage {
	var out []Stage
	for _, s := range g.Stages {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Producer returns the stage that outputs label.
func (g *Graph) Producer(label string) (Stage, bool) {
	for _, s := range g.Stages {
		for _, out := range s.Outputs {
			if out == label {
				return s, true
			}
		}
	}
	return Stage{}, false
}

// Verify checks that every label is produced once before it is consumed,
// that filter outputs are consumed exactly once, and that the graph ends in
// a mux of one video and one audio stream.
func (g *Graph) Verify() error {
	const op = "verify graph"

	produced := make(map[string]int)
	consumed := make(map[string]bool)
	for i, s := range g.Stages {
		if s.ID != i {
			return faults.Compilation(op, "stage %d has id %d", i, s.ID)
		}
		for _, in := range s.Inputs {
			if _, ok := produced[in]; !ok {
				return faults.Compilation(op, "stage %d (%s) consumes %q before it is produced", i, s.Kind, in)
			}
			if consumed[in] {
				return faults.Compilation(op, "stage %d (%s) consumes %q twice", i, s.Kind, in)
			}
			consumed[in] = true
		}
		for _, out := range s.Outputs {
			if prev, ok := produced[out]; ok {
				return faults.Compilation(op, "label %q produced by stages %d and %d", out, prev, i)
			}
			produced[out] = i
		}
	}

	term, ok := g.Terminal()
	if !ok {
		return faults.Compilation(op, "graph does not end in a mux stage")
	}
	if len(term.Inputs) != 2 {
		return faults.Compilation(op, "mux maps %d streams, want 2", len(term.Inputs))
	}
	for label, idx := range produced {
		if g.Stages[idx].Kind == StageInput {
			continue
		}
		if !consumed[label] {
			return faults.Compilation(op, "label %q from stage %d is never consumed", label, idx)
		}
	}
	return nil
}

func (s Stage) String() string {
	return fmt.Sprintf("#%d %s %v -> %v", s.ID, s.Kind, s.Inputs, s.Outputs)
}
