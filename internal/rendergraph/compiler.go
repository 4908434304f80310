// Package rendergraph compiles a timeline snapshot and export options into an
// ordered graph of media processing stages, and renders that graph as an
// ffmpeg filtergraph.
package rendergraph

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cutroom/cutroom-agent/internal/faults"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// Source is a resolved media reference.
type Source struct {
	Path     string `json:"path"`
	HasAudio bool   `json:"hasAudio"`
	Still    bool   `json:"still,omitempty"`
}

// SourceTable resolves clip source references and overlay image references.
type SourceTable interface {
	Lookup(ref string) (Source, bool)
}

// SourceMap is a SourceTable backed by a map.
type SourceMap map[string]Source

// Lookup implements SourceTable.
func (m SourceMap) Lookup(ref string) (Source, bool) {
	s, ok := m[ref]
	return s, ok
}

// Prober reads the native frame size of a media file.
type Prober interface {
	ProbeDimensions(ctx context.Context, path string) (Dimensions, error)
}

// Request is one compilation input.
type Request struct {
	Clips   []timeline.Clip
	Options Options
	Sources SourceTable
}

// Compiler turns timeline clips into render graphs. It holds no state
// between calls.
type Compiler struct {
	prober Prober
	logger *slog.Logger
	tracer trace.Tracer
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithTracer overrides the tracer used for compile spans.
func WithTracer(t trace.Tracer) CompilerOption {
	return func(c *Compiler) { c.tracer = t }
}

// NewCompiler creates a compiler. prober is only used for the "original"
// resolution and may be nil when that resolution is never requested.
func NewCompiler(prober Prober, logger *slog.Logger, opts ...CompilerOption) *Compiler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Compiler{
		prober: prober,
		logger: logger,
		tracer: otel.Tracer("cutroom/rendergraph"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile validates the request and builds its render graph. Validation
// problems return a validation error; failures while building return a
// compilation error. No graph is returned with an error.
func (c *Compiler) Compile(ctx context.Context, req Request) (*Graph, error) {
	ctx, span := c.tracer.Start(ctx, "rendergraph.Compile", trace.WithAttributes(
		attribute.Int("clips", len(req.Clips)),
		attribute.String("resolution", string(req.Options.Resolution)),
	))
	defer span.End()

	g, err := c.compile(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compile failed")
		c.logger.Warn("compile failed", "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("stages", len(g.Stages)))
	c.logger.Debug("compiled render graph",
		"stages", len(g.Stages),
		"dimensions", g.Dimensions.String(),
		"duration_s", g.Duration,
		"warnings", len(g.Warnings),
	)
	return g, nil
}

func (c *Compiler) compile(ctx context.Context, req Request) (*Graph, error) {
	if req.Options.Resolution == "" {
		req.Options.Resolution = Resolution1080p
	}
	main, overlay, err := validate(req)
	if err != nil {
		return nil, err
	}

	dims, err := c.resolveDimensions(ctx, req, main[0])
	if err != nil {
		return nil, err
	}

	b := &builder{opts: req.Options, sources: req.Sources, dims: dims}
	g, err := b.safeBuild(main, overlay)
	if err != nil {
		return nil, err
	}
	if err := g.Verify(); err != nil {
		return nil, err
	}
	return g, nil
}

func (c *Compiler) resolveDimensions(ctx context.Context, req Request, first timeline.Clip) (Dimensions, error) {
	if d, ok := req.Options.Resolution.fixed(); ok {
		return d, nil
	}

	const op = "resolve original resolution"
	if c.prober == nil {
		return Dimensions{}, faults.Compilation(op, "no prober configured")
	}
	src, _ := req.Sources.Lookup(first.SourceRef)
	d, err := c.prober.ProbeDimensions(ctx, src.Path)
	if err != nil {
		return Dimensions{}, faults.Wrap(faults.ErrCompilation, op, err)
	}
	if !d.Valid() {
		return Dimensions{}, faults.Compilation(op, "probe returned %s", d)
	}
	return d, nil
}

// validate checks the request before any stage is built and returns the
// clips of each track in layout order.
func validate(req Request) ([]timeline.Clip, []timeline.Clip, error) {
	var problems []string
	if req.Sources == nil {
		problems = append(problems, "no source table")
	}
	switch req.Options.Resolution {
	case Resolution720p, Resolution1080p, ResolutionOriginal:
	default:
		problems = append(problems, fmt.Sprintf("unknown resolution %q", req.Options.Resolution))
	}

	var main, overlay []timeline.Clip
	for i, c := range req.Clips {
		name := c.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		if req.Sources != nil {
			if _, ok := req.Sources.Lookup(c.SourceRef); !ok {
				problems = append(problems, fmt.Sprintf("clip %s: source %q cannot be resolved", name, c.SourceRef))
			}
		}
		switch {
		case !finite(c.InTime) || !finite(c.OutTime):
			problems = append(problems, fmt.Sprintf("clip %s: in/out times must be finite", name))
		case c.OutTime <= c.InTime:
			problems = append(problems, fmt.Sprintf("clip %s: out time %g not after in time %g", name, c.OutTime, c.InTime))
		case c.InTime < 0:
			problems = append(problems, fmt.Sprintf("clip %s: negative in time %g", name, c.InTime))
		}
		if !timeline.KnownFilter(timeline.NormalizeFilter(c.Filter)) {
			problems = append(problems, fmt.Sprintf("clip %s: unknown filter %q", name, c.Filter))
		}

		switch c.Track {
		case timeline.TrackMain:
			main = append(main, c)
		case timeline.TrackOverlay:
			overlay = append(overlay, c)
		default:
			problems = append(problems, fmt.Sprintf("clip %s: invalid track %d", name, int(c.Track)))
		}
	}
	if len(main) == 0 {
		problems = append(problems, "main track has no clips")
	}
	if len(problems) > 0 {
		return nil, nil, faults.Validation("compile", "%s", strings.Join(problems, "; "))
	}

	byStart := func(clips []timeline.Clip) {
		sort.SliceStable(clips, func(a, b int) bool { return clips[a].StartTime < clips[b].StartTime })
	}
	byStart(main)
	byStart(overlay)
	return main, overlay, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
