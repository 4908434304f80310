package rendergraph

import (
	"fmt"
	"strconv"
	"strings"
)

// Output frame rate and audio format used when segments are normalised for
// concatenation.
const (
	normalizeFPS        = 30
	normalizeSampleRate = 48000
)

// InputArg is one ffmpeg -i input.
type InputArg struct {
	Path  string
	Still bool
}

// Invocation is a render graph expressed as ffmpeg inputs, a filter_complex
// script and the two mapped output streams.
type Invocation struct {
	Inputs        []InputArg
	FilterComplex string
	VideoMap      string
	AudioMap      string
	Duration      float64
}

// Args returns the input, filter and map arguments, without codec settings
// or the output path.
func (inv Invocation) Args() []string {
	var args []string
	for _, in := range inv.Inputs {
		if in.Still {
			args = append(args, "-loop", "1")
		}
		args = append(args, "-i", in.Path)
	}
	args = append(args,
		"-filter_complex", inv.FilterComplex,
		"-map", inv.VideoMap,
		"-map", inv.AudioMap,
	)
	if inv.Duration > 0 {
		args = append(args, "-t", num(inv.Duration))
	}
	return args
}

// FFmpeg renders g as an ffmpeg invocation.
func (g *Graph) FFmpeg() (Invocation, error) {
	if err := g.Verify(); err != nil {
		return Invocation{}, err
	}

	var inv Invocation
	streams := make(map[string]string)
	chains := make([]string, 0, len(g.Stages))

	ref := func(label string) string {
		if s, ok := streams[label]; ok {
			return "[" + s + "]"
		}
		return "[" + label + "]"
	}
	refs := func(labels []string) string {
		var sb strings.Builder
		for _, l := range labels {
			sb.WriteString(ref(l))
		}
		return sb.String()
	}
	outs := func(labels []string) string {
		var sb strings.Builder
		for _, l := range labels {
			sb.WriteString("[" + l + "]")
		}
		return sb.String()
	}

	for _, s := range g.Stages {
		p := s.Params
		switch s.Kind {
		case StageInput:
			inv.Inputs = append(inv.Inputs, InputArg{Path: p.Path, Still: p.Still})
			idx := len(inv.Inputs) - 1
			for _, out := range s.Outputs {
				streams[out] = fmt.Sprintf("%d:%s", idx, out[strings.LastIndex(out, ":")+1:])
			}

		case StageTrimVideo:
			filters := []string{
				fmt.Sprintf("trim=start=%s:end=%s", num(p.Start), num(p.End)),
				"setpts=PTS-STARTPTS",
			}
			if chain, ok := FilterChain(p.Filter); ok {
				filters = append(filters, chain)
			}
			if p.Normalize != nil {
				filters = append(filters, fitFilters(*p.Normalize)...)
				filters = append(filters, fmt.Sprintf("fps=%d", normalizeFPS), "format=yuv420p")
			}
			chains = append(chains, refs(s.Inputs)+strings.Join(filters, ",")+outs(s.Outputs))

		case StageTrimAudio:
			filters := []string{
				fmt.Sprintf("atrim=start=%s:end=%s", num(p.Start), num(p.End)),
				"asetpts=PTS-STARTPTS",
			}
			if p.Muted {
				filters = append(filters, "volume=0")
			}
			if p.Normalize != nil {
				filters = append(filters, audioFormat())
			}
			chains = append(chains, refs(s.Inputs)+strings.Join(filters, ",")+outs(s.Outputs))

		case StageSilence:
			chains = append(chains, fmt.Sprintf("anullsrc=r=%d:cl=stereo,atrim=duration=%s,%s%s",
				normalizeSampleRate, num(p.Duration), audioFormat(), outs(s.Outputs)))

		case StageConcat:
			audio := 0
			if p.Audio {
				audio = 1
			}
			chains = append(chains, fmt.Sprintf("%sconcat=n=%d:v=1:a=%d%s", refs(s.Inputs), p.Segments, audio, outs(s.Outputs)))

		case StageOverlayPrep:
			source := ref(s.Inputs[0])
			if p.Opacity < 1 {
				alpha := fmt.Sprintf("s%da", s.ID)
				chains = append(chains, fmt.Sprintf("%sformat=rgba,colorchannelmixer=aa=%s[%s]", source, num(p.Opacity), alpha))
				source = "[" + alpha + "]"
			}
			chains = append(chains, fmt.Sprintf("%s%sscale2ref=w=main_w*%s:h=main_h*%s%s",
				source, ref(s.Inputs[1]), num(p.Width/100), num(p.Height/100), outs(s.Outputs)))

		case StageComposite:
			mode := "shortest=1"
			if p.PassMain {
				mode = "eof_action=pass"
			}
			chains = append(chains, fmt.Sprintf("%soverlay=x=main_w*%s:y=main_h*%s:%s%s",
				refs(s.Inputs), num(p.X/100), num(p.Y/100), mode, outs(s.Outputs)))

		case StageScalePad:
			filters := append(fitFilters(*p.Target), "format=yuv420p")
			chains = append(chains, refs(s.Inputs)+strings.Join(filters, ",")+outs(s.Outputs))

		case StageMux:
			inv.VideoMap = ref(s.Inputs[0])
			inv.AudioMap = ref(s.Inputs[1])
			inv.Duration = p.Duration

		default:
			return Invocation{}, fmt.Errorf("unknown stage kind %q", s.Kind)
		}
	}

	inv.FilterComplex = strings.Join(chains, ";")
	return inv, nil
}

// fitFilters scales to fit inside d preserving aspect ratio and pads the rest
// with centered borders.
func fitFilters(d Dimensions) []string {
	return []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", d.Width, d.Height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", d.Width, d.Height),
		"setsar=1",
	}
}

func audioFormat() string {
	return fmt.Sprintf("aresample=%d,aformat=sample_fmts=fltp:channel_layouts=stereo", normalizeSampleRate)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
