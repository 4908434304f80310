package execution

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// RequiredFilters are the ffmpeg filters rendered graphs may use.
var RequiredFilters = []string{
	"trim", "atrim", "setpts", "asetpts", "concat", "scale", "scale2ref", "pad",
	"setsar", "fps", "format", "overlay", "colorchannelmixer", "volume",
	"anullsrc", "aresample", "aformat",
}

// ProbeFunc reports the capabilities of the installed ffmpeg.
type ProbeFunc func(ctx context.Context) (*Capabilities, error)

// ProbeCapabilities inspects ffmpeg -version, -encoders and -filters.
func (e *FFmpegExecutor) ProbeCapabilities(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	version, err := e.output(ctx, "-version")
	if err != nil {
		return nil, err
	}
	encoders, err := e.output(ctx, "-encoders")
	if err != nil {
		return nil, err
	}
	filters, err := e.output(ctx, "-filters")
	if err != nil {
		return nil, err
	}

	caps := &Capabilities{
		Version:  parseVersion(version),
		Encoders: parseListing(encoders),
		Filters:  parseListing(filters),
		ProbedAt: time.Now(),
	}
	for _, enc := range []string{e.cfg.VideoCodec, e.cfg.AudioCodec} {
		if enc != "" && !caps.Encoders[enc] {
			caps.MissingEncoders = append(caps.MissingEncoders, enc)
		}
	}
	for _, f := range RequiredFilters {
		if !caps.Filters[f] {
			caps.MissingFilters = append(caps.MissingFilters, f)
		}
	}
	sort.Strings(caps.MissingFilters)

	e.cfg.Logger.Info("ffmpeg capability probe complete",
		"version", caps.Version,
		"ready", caps.Ready(),
		"missing_encoders", caps.MissingEncoders,
		"missing_filters", caps.MissingFilters,
	)
	return caps, nil
}

func (e *FFmpegExecutor) output(ctx context.Context, flag string) (string, error) {
	out, err := exec.CommandContext(ctx, e.ffmpeg, "-hide_banner", flag).Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg %s failed: %w", flag, err)
	}
	return string(out), nil
}

func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[1] == "version" {
		return fields[2]
	}
	return strings.TrimSpace(line)
}

// parseListing collects names from ffmpeg -encoders / -filters tables, whose
// rows are a flags column followed by the name. Legend rows ("V..... = Video")
// and separators are skipped.
func parseListing(out string) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[1] == "=" || !isFlagColumn(fields[0]) {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

func isFlagColumn(s string) bool {
	if len(s) != 3 && len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r != '.' && r != '|' && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// CachedDoctor caches capability probes for a TTL so exports do not spawn
// ffmpeg three extra times each.
type CachedDoctor struct {
	probe  ProbeFunc
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor wraps probe with a cache.
func NewCachedDoctor(probe ProbeFunc, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CachedDoctor{probe: probe, ttl: defaultCacheTTL, logger: logger}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()
	return d.Refresh(ctx)
}

// Peek returns the cached capabilities without probing.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a probe. A failed probe returns the stale cache when one
// exists.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.probe(ctx)
	if err != nil {
		d.logger.Warn("ffmpeg capability probe failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}
	d.cached = caps
	return caps, nil
}

// Invalidate clears the cache.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
