package execution

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cutroom/cutroom-agent/internal/rendergraph"
)

const (
	maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics
	maxMessageLen  = 512
	eventBuffer    = 32
)

// Config holds the executor's configuration.
type Config struct {
	FFmpegPath   string // empty = look up "ffmpeg" on PATH
	VideoCodec   string
	Preset       string
	CRF          int
	AudioCodec   string
	AudioBitrate string
	Timeout      time.Duration
	Logger       *slog.Logger
	DebugPaths   bool // log full paths instead of sanitised ones
}

// DefaultConfig returns production defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		VideoCodec:   "libx264",
		Preset:       "veryfast",
		CRF:          23,
		AudioCodec:   "aac",
		AudioBitrate: "192k",
		Timeout:      2 * time.Hour,
		Logger:       logger,
	}
}

// FFmpegExecutor is the production Executor.
type FFmpegExecutor struct {
	cfg    Config
	ffmpeg string
}

// NewFFmpegExecutor resolves the ffmpeg binary and returns an executor.
func NewFFmpegExecutor(cfg Config) (*FFmpegExecutor, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	cfg.Logger.Info("ffmpeg executor initialised", "ffmpeg", ffmpeg, "video_codec", cfg.VideoCodec)
	return &FFmpegExecutor{cfg: cfg, ffmpeg: ffmpeg}, nil
}

// Binary returns the resolved ffmpeg path.
func (e *FFmpegExecutor) Binary() string { return e.ffmpeg }

// Args builds the full ffmpeg argument list for writing g to output.
func (e *FFmpegExecutor) Args(g *rendergraph.Graph, output string) ([]string, error) {
	inv, err := g.FFmpeg()
	if err != nil {
		return nil, err
	}
	return BuildArgs(e.cfg, inv, output), nil
}

// BuildArgs combines an invocation with encoder settings.
func BuildArgs(cfg Config, inv rendergraph.Invocation, output string) []string {
	args := []string{"-hide_banner", "-nostats", "-y", "-progress", "pipe:1"}
	args = append(args, inv.Args()...)
	args = append(args, "-c:v", cfg.VideoCodec)
	if cfg.Preset != "" {
		args = append(args, "-preset", cfg.Preset)
	}
	if cfg.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(cfg.CRF))
	}
	args = append(args, "-pix_fmt", "yuv420p", "-c:a", cfg.AudioCodec)
	if cfg.AudioBitrate != "" {
		args = append(args, "-b:a", cfg.AudioBitrate)
	}
	return append(args, "-movflags", "+faststart", output)
}

// Execute starts ffmpeg in the background. Cancelling ctx kills the process
// and ends the stream with a failure event.
func (e *FFmpegExecutor) Execute(ctx context.Context, g *rendergraph.Graph, target string) (<-chan Event, error) {
	if target == "" {
		return nil, errors.New("empty output target")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, fmt.Errorf("cannot create output dir: %w", err)
	}
	partial := partialPath(target)
	args, err := e.Args(g, partial)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, eventBuffer)
	go e.run(ctx, args, g.Duration, partial, target, events)
	return events, nil
}

func (e *FFmpegExecutor) run(ctx context.Context, args []string, duration float64, partial, target string, events chan<- Event) {
	defer close(events)

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	progress := func(percent float64) {
		select {
		case events <- ProgressEvent(percent):
		default:
			// Slow consumer; a later progress event supersedes this one.
		}
	}
	result := e.exec(ctx, args, duration, progress)

	if !result.IsSuccess() {
		os.Remove(partial)
		events <- FailureEvent(e.failureMessage(ctx, result))
		return
	}
	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)
		events <- FailureEvent(fmt.Sprintf("cannot move output into place: %v", err))
		return
	}
	events <- SuccessEvent(target)
}

// exec runs ffmpeg, feeding -progress output to onProgress.
func (e *FFmpegExecutor) exec(ctx context.Context, args []string, duration float64, onProgress func(float64)) RunResult {
	start := time.Now()
	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
	}

	e.cfg.Logger.Info("executing ffmpeg", "args", len(args), "duration_s", duration)
	if err := cmd.Start(); err != nil {
		return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
	}

	tracker := newProgressTracker(duration)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if percent, ok := tracker.observe(scanner.Text()); ok {
			onProgress(percent)
		}
	}

	err = cmd.Wait()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if exitCode == 0 {
			exitCode = -1
		}
	}

	result := RunResult{ExitCode: exitCode, StderrTail: stderrBuf.String(), Duration: elapsed}
	if exitCode != 0 {
		e.cfg.Logger.Warn("ffmpeg failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(result.StderrTail, maxMessageLen),
		)
	} else {
		e.cfg.Logger.Info("ffmpeg succeeded", "duration_ms", elapsed.Milliseconds())
	}
	return result
}

func (e *FFmpegExecutor) failureMessage(ctx context.Context, r RunResult) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("export timed out after %s", e.cfg.Timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return "export cancelled"
	}
	msg := fmt.Sprintf("ffmpeg exited with status %d", r.ExitCode)
	if excerpt := diagnosticExcerpt(r.StderrTail); excerpt != "" {
		msg += ": " + excerpt
	}
	return msg
}

// diagnosticExcerpt keeps the last non-empty stderr lines, bounded in length.
func diagnosticExcerpt(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < 3; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			kept = append([]string{line}, kept...)
		}
	}
	return truncate(strings.Join(kept, " | "), maxMessageLen)
}

// partialPath names the file ffmpeg writes before it is renamed to target.
// The extension is kept so ffmpeg picks the same container.
func partialPath(target string) string {
	dir, base := filepath.Split(target)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".partial"+ext)
}

func resolveBinary(preferred, fallback string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured binary %q not found", preferred)
	}
	p, err := exec.LookPath(fallback)
	if err != nil {
		return "", fmt.Errorf("%s not found on PATH", fallback)
	}
	return p, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last limit bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
