package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/execution"
	"github.com/cutroom/cutroom-agent/internal/rendergraph"
)

// optionFlags are the export options shared by compile and export.
type optionFlags struct {
	resolution  string
	hideOverlay bool
	muteMain    bool
	muteOverlay bool
}

func (f *optionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.resolution, "resolution", "r", string(rendergraph.Resolution1080p), "Output size: 720p, 1080p or original")
	cmd.Flags().BoolVar(&f.hideOverlay, "hide-overlay-track", false, "Leave the overlay track out of the render")
	cmd.Flags().BoolVar(&f.muteMain, "mute-main", false, "Silence the main track")
	cmd.Flags().BoolVar(&f.muteOverlay, "mute-overlay", false, "Silence the overlay track")
}

func (f *optionFlags) options() (rendergraph.Options, error) {
	res, err := rendergraph.ParseResolution(f.resolution)
	if err != nil {
		return rendergraph.Options{}, err
	}
	return rendergraph.Options{
		Resolution:          res,
		OverlayTrackVisible: !f.hideOverlay,
		Track0Muted:         f.muteMain,
		Track1Muted:         f.muteOverlay,
	}, nil
}

// compileProject compiles the stored revision of a project.
func compileProject(ctx context.Context, s *store, ref string, opts rendergraph.Options) (*catalog.Project, *rendergraph.Graph, error) {
	p, err := s.resolveProject(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	_, doc, err := s.catalog.LoadDocument(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	snap, err := doc.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	sources, err := s.catalog.Sources(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	g, err := rendergraph.NewCompiler(s.prober, s.logger).Compile(ctx, rendergraph.Request{
		Clips:   snap.All(),
		Options: opts,
		Sources: sources,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, g, nil
}

func newCompileCommand(ctx *commandContext) *cobra.Command {
	var flags optionFlags
	var asJSON bool
	var ffmpegArgs bool

	cmd := &cobra.Command{
		Use:   "compile <project>",
		Short: "Compile a project into a render graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			return ctx.withStore(func(s *store) error {
				_, g, err := compileProject(cmd.Context(), s, args[0], opts)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				switch {
				case asJSON:
					return writeJSON(cmd, g)
				case ffmpegArgs:
					inv, err := g.FFmpeg()
					if err != nil {
						return err
					}
					fmt.Fprintln(out, strings.Join(execution.BuildArgs(encoderConfig(s), inv, "out.mp4"), " "))
					return nil
				}

				fmt.Fprintf(out, "%s, %ss, %d stage(s)\n", g.Dimensions, seconds(g.Duration), len(g.Stages))
				fmt.Fprintln(out, stageTable(g))
				for _, w := range g.Warnings {
					fmt.Fprintf(out, "warning: %s\n", w)
				}
				return nil
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the graph as JSON")
	cmd.Flags().BoolVar(&ffmpegArgs, "ffmpeg-args", false, "Print the ffmpeg argument list")
	cmd.MarkFlagsMutuallyExclusive("json", "ffmpeg-args")
	return cmd
}

func stageTable(g *rendergraph.Graph) string {
	rows := make([][]string, 0, len(g.Stages))
	for _, st := range g.Stages {
		rows = append(rows, []string{
			strconv.Itoa(st.ID),
			string(st.Kind),
			strings.Join(st.Inputs, " "),
			strings.Join(st.Outputs, " "),
			stageDetail(st),
		})
	}
	return renderTable(
		[]string{"#", "Kind", "Inputs", "Outputs", "Detail"},
		rows,
		[]columnAlignment{alignRight},
	)
}

func stageDetail(st rendergraph.Stage) string {
	p := st.Params
	switch st.Kind {
	case rendergraph.StageInput:
		src := p.Path
		if src == "" {
			src = p.SourceRef
		}
		if p.Still {
			return src + " (still)"
		}
		return src
	case rendergraph.StageTrimVideo, rendergraph.StageTrimAudio:
		detail := fmt.Sprintf("%s %s-%s", p.ClipID, seconds(p.Start), seconds(p.End))
		if p.Filter != "" {
			detail += " " + p.Filter
		}
		if p.Muted {
			detail += " muted"
		}
		return detail
	case rendergraph.StageSilence:
		return fmt.Sprintf("%s %ss", p.ClipID, seconds(p.End-p.Start))
	case rendergraph.StageConcat:
		return fmt.Sprintf("%d segment(s)", p.Segments)
	case rendergraph.StageOverlayPrep, rendergraph.StageComposite:
		return fmt.Sprintf("%s x=%s y=%s w=%s h=%s", p.OverlayID, seconds(p.X), seconds(p.Y), seconds(p.Width), seconds(p.Height))
	case rendergraph.StageScalePad:
		if p.Target != nil {
			return p.Target.String()
		}
	case rendergraph.StageMux:
		return seconds(p.Duration) + "s"
	}
	return ""
}

func encoderConfig(s *store) execution.Config {
	enc := s.cfg.Encoder()
	cfg := execution.DefaultConfig(s.logger)
	cfg.FFmpegPath = s.cfg.FFmpegPath()
	cfg.VideoCodec = enc.VideoCodec
	cfg.Preset = enc.Preset
	cfg.CRF = enc.CRF
	cfg.AudioCodec = enc.AudioCodec
	cfg.AudioBitrate = enc.AudioBitrate
	cfg.Timeout = s.cfg.ExportTimeout()
	return cfg
}
