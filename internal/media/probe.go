// Package media inspects source files with ffprobe and renders poster frames
// with ffmpeg.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cutroom/cutroom-agent/internal/rendergraph"
)

// Prober reads media metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	GenerateThumbnail(ctx context.Context, path, outputPath string, offset float64) error
}

// ProbeResult is the subset of ffprobe output the agent uses.
type ProbeResult struct {
	Duration    float64
	Width       int
	Height      int
	Codec       string
	Bitrate     int64
	FrameRate   float64
	AudioCodec  string
	AudioSample int
	HasAudio    bool
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Duration     string `json:"duration"`
	SampleRate   string `json:"sample_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

// FFprobe is the Prober backed by the ffprobe and ffmpeg binaries.
type FFprobe struct {
	ffprobe string
	ffmpeg  string
	logger  *slog.Logger
}

// NewFFprobe creates a prober. Empty binary names fall back to the PATH
// defaults.
func NewFFprobe(ffprobe, ffmpeg string, logger *slog.Logger) *FFprobe {
	if strings.TrimSpace(ffprobe) == "" {
		ffprobe = "ffprobe"
	}
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FFprobe{ffprobe: ffprobe, ffmpeg: ffmpeg, logger: logger}
}

// Probe runs ffprobe on path.
func (f *FFprobe) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ffprobe: empty path")
	}

	cmd := exec.CommandContext(ctx, f.ffprobe, "-v", "error", "-hide_banner",
		"-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	result, err := ParseProbe(output)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("probed media",
		"path", path,
		"duration_s", result.Duration,
		"width", result.Width,
		"height", result.Height,
		"has_audio", result.HasAudio,
	)
	return result, nil
}

// ProbeDimensions adapts Probe for the render graph compiler.
func (f *FFprobe) ProbeDimensions(ctx context.Context, path string) (rendergraph.Dimensions, error) {
	r, err := f.Probe(ctx, path)
	if err != nil {
		return rendergraph.Dimensions{}, err
	}
	if r.Width <= 0 || r.Height <= 0 {
		return rendergraph.Dimensions{}, fmt.Errorf("no video stream in %s", path)
	}
	return rendergraph.Dimensions{Width: r.Width, Height: r.Height}, nil
}

// GenerateThumbnail writes a single JPEG frame taken at offset seconds.
func (f *FFprobe) GenerateThumbnail(ctx context.Context, path, outputPath string, offset float64) error {
	cmd := exec.CommandContext(ctx, f.ffmpeg, "-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64), "-i", path,
		"-frames:v", "1", "-vf", "scale=320:-2", outputPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("thumbnail failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ParseProbe decodes ffprobe JSON output.
func ParseProbe(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("ffprobe parse: %w", err)
	}

	r := &ProbeResult{
		Duration: parseFloat(out.Format.Duration),
		Bitrate:  int64(parseFloat(out.Format.BitRate)),
	}
	for _, s := range out.Streams {
		switch strings.ToLower(s.CodecType) {
		case "video":
			if r.Width != 0 {
				continue
			}
			r.Width, r.Height = s.Width, s.Height
			r.Codec = s.CodecName
			r.FrameRate = parseRate(s.AvgFrameRate)
			if r.Duration == 0 {
				r.Duration = parseFloat(s.Duration)
			}
		case "audio":
			if r.HasAudio {
				continue
			}
			r.HasAudio = true
			r.AudioCodec = s.CodecName
			r.AudioSample = int(parseFloat(s.SampleRate))
		}
	}
	return r, nil
}

func parseFloat(value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(value string) float64 {
	num, den, ok := strings.Cut(value, "/")
	if !ok {
		return parseFloat(value)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}
