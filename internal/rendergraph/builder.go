package rendergraph

import (
	"fmt"

	"github.com/cutroom/cutroom-agent/internal/faults"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// Stream labels with fixed names.
const (
	labelMainVideo  = "mainv"
	labelMainAudio  = "maina"
	labelPIPVideo   = "pipv"
	labelPIPScaled  = "pip"
	labelPIPRef     = "pipref"
	labelComposited = "composited"
	labelOutVideo   = "outv"
)

type builder struct {
	opts     Options
	sources  SourceTable
	dims     Dimensions
	stages   []Stage
	inputs   int
	warnings []string
}

// safeBuild converts a panic during construction into a compilation error.
func (b *builder) safeBuild(main, overlay []timeline.Clip) (g *Graph, err error) {
	defer func() {
		if r := recover(); r != nil {
			g, err = nil, faults.Compilation("build graph", "internal error: %v", r)
		}
	}()
	return b.build(main, overlay)
}

func (b *builder) build(main, overlay []timeline.Clip) (*Graph, error) {
	mainVideo, mainAudio, duration := b.mainTrack(main)

	video := mainVideo
	if len(overlay) > 0 && b.opts.OverlayTrackVisible {
		composited, err := b.overlayTrack(overlay, mainVideo)
		if err != nil {
			return nil, err
		}
		video = composited
	}

	b.add(StageScalePad, []string{video}, []string{labelOutVideo}, Params{Target: &Dimensions{Width: b.dims.Width, Height: b.dims.Height}})
	b.add(StageMux, []string{labelOutVideo, mainAudio}, nil, Params{Duration: duration})

	return &Graph{
		Stages:     b.stages,
		Dimensions: b.dims,
		Duration:   duration,
		Warnings:   b.warnings,
	}, nil
}

func (b *builder) add(kind StageKind, inputs, outputs []string, p Params) {
	b.stages = append(b.stages, Stage{
		ID:      len(b.stages),
		Kind:    kind,
		Inputs:  inputs,
		Outputs: outputs,
		Params:  p,
	})
}

func (b *builder) warnf(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// input adds an input stage and returns its video and, when requested,
// audio labels.
func (b *builder) input(ref string, src Source, withAudio bool) (string, string) {
	n := b.inputs
	b.inputs++
	video := fmt.Sprintf("in%d:v", n)
	outputs := []string{video}
	audio := ""
	if withAudio {
		audio = fmt.Sprintf("in%d:a", n)
		outputs = append(outputs, audio)
	}
	b.add(StageInput, nil, outputs, Params{InputIndex: n, SourceRef: ref, Path: src.Path, Still: src.Still})
	return video, audio
}

// mainTrack emits the per-clip video and audio paths, the clip overlays and
// the concat stage, and returns the main video and audio labels.
func (b *builder) mainTrack(clips []timeline.Clip) (string, string, float64) {
	var normalize *Dimensions
	if len(clips) > 1 {
		normalize = &Dimensions{Width: b.dims.Width, Height: b.dims.Height}
	}

	var (
		segments []string
		duration float64
	)
	for i, clip := range clips {
		src, _ := b.sources.Lookup(clip.SourceRef)
		inVideo, inAudio := b.input(clip.SourceRef, src, src.HasAudio)

		video := fmt.Sprintf("v%d", i)
		b.add(StageTrimVideo, []string{inVideo}, []string{video}, Params{
			ClipID:    clip.ID,
			Start:     clip.InTime,
			End:       clip.OutTime,
			Filter:    timeline.NormalizeFilter(clip.Filter),
			Normalize: normalize,
		})
		video = b.clipOverlays(i, clip, video)

		audio := fmt.Sprintf("a%d", i)
		muted := clip.Muted || b.opts.Track0Muted
		if src.HasAudio {
			b.add(StageTrimAudio, []string{inAudio}, []string{audio}, Params{
				ClipID:    clip.ID,
				Start:     clip.InTime,
				End:       clip.OutTime,
				Muted:     muted,
				Normalize: normalize,
			})
		} else {
			b.add(StageSilence, nil, []string{audio}, Params{
				ClipID:    clip.ID,
				Duration:  clip.Duration(),
				Normalize: normalize,
			})
		}

		segments = append(segments, video, audio)
		duration += clip.Duration()
	}

	if len(clips) == 1 {
		return segments[0], segments[1], duration
	}
	b.add(StageConcat, segments, []string{labelMainVideo, labelMainAudio}, Params{Segments: len(clips), Audio: true})
	return labelMainVideo, labelMainAudio, duration
}

// clipOverlays layers each usable overlay of clip onto video and returns the
// final label. Overlays with a non-numeric field, a zero extent or an
// unresolvable image are skipped.
func (b *builder) clipOverlays(clipIndex int, clip timeline.Clip, video string) string {
	for k, o := range clip.Overlays {
		clamped, ok := o.Clamped()
		if !ok {
			b.warnf("clip %s: overlay %s skipped: non-numeric geometry or opacity", clip.ID, o.ID)
			continue
		}
		if clamped.Size.Width == 0 || clamped.Size.Height == 0 {
			b.warnf("clip %s: overlay %s skipped: zero size", clip.ID, o.ID)
			continue
		}
		img, ok := b.sources.Lookup(o.ImageRef)
		if !ok {
			b.warnf("clip %s: overlay %s skipped: image %q cannot be resolved", clip.ID, o.ID, o.ImageRef)
			continue
		}
		img.Still = true

		imgVideo, _ := b.input(o.ImageRef, img, false)
		scaled := fmt.Sprintf("ov%d_%d", clipIndex, k)
		ref := fmt.Sprintf("ref%d_%d", clipIndex, k)
		b.add(StageOverlayPrep, []string{imgVideo, video}, []string{scaled, ref}, Params{
			ClipID:    clip.ID,
			OverlayID: clamped.ID,
			Opacity:   timeline.ClampUnit(clamped.Opacity),
			Width:     timeline.ClampPercent(clamped.Size.Width),
			Height:    timeline.ClampPercent(clamped.Size.Height),
		})

		out := fmt.Sprintf("v%d_o%d", clipIndex, k)
		b.add(StageComposite, []string{ref, scaled}, []string{out}, Params{
			ClipID:    clip.ID,
			OverlayID: clamped.ID,
			X:         timeline.ClampPercent(clamped.Position.X),
			Y:         timeline.ClampPercent(clamped.Position.Y),
		})
		video = out
	}
	return video
}

// overlayTrack builds the picture-in-picture path. The geometry of the first
// overlay-track clip applies to the whole overlay segment.
func (b *builder) overlayTrack(clips []timeline.Clip, mainVideo string) (string, error) {
	const op = "overlay track"

	first := clips[0]
	pos, size := first.Geometry()
	if !pos.Finite() || !size.Finite() {
		return "", faults.Compilation(op, "geometry of clip %s is not a number", first.ID)
	}
	pos, size = pos.Clamped(), size.Clamped()
	if size.Width == 0 || size.Height == 0 {
		b.warnf("overlay track skipped: clip %s has zero size", first.ID)
		return mainVideo, nil
	}
	if b.opts.Track1Muted {
		b.warnf("overlay track carries no audio; mute has no effect")
	}

	var normalize *Dimensions
	if len(clips) > 1 {
		normalize = &Dimensions{Width: b.dims.Width, Height: b.dims.Height}
	}

	var segments []string
	for j, clip := range clips {
		src, _ := b.sources.Lookup(clip.SourceRef)
		inVideo, _ := b.input(clip.SourceRef, src, false)
		video := fmt.Sprintf("pv%d", j)
		b.add(StageTrimVideo, []string{inVideo}, []string{video}, Params{
			ClipID:    clip.ID,
			Start:     clip.InTime,
			End:       clip.OutTime,
			Filter:    timeline.NormalizeFilter(clip.Filter),
			Normalize: normalize,
		})
		segments = append(segments, video)
	}

	pip := segments[0]
	if len(segments) > 1 {
		b.add(StageConcat, segments, []string{labelPIPVideo}, Params{Segments: len(segments)})
		pip = labelPIPVideo
	}

	b.add(StageOverlayPrep, []string{pip, mainVideo}, []string{labelPIPScaled, labelPIPRef}, Params{
		ClipID:  first.ID,
		Opacity: 1,
		Width:   size.Width,
		Height:  size.Height,
	})
	b.add(StageComposite, []string{labelPIPRef, labelPIPScaled}, []string{labelComposited}, Params{
		ClipID:   first.ID,
		X:        pos.X,
		Y:        pos.Y,
		PassMain: true,
	})
	return labelComposited, nil
}
