package execution

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cutroom/cutroom-agent/internal/rendergraph"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

func TestProgressTracker(t *testing.T) {
	p := newProgressTracker(10)
	lines := []string{
		"frame=12",
		"out_time_us=2500000",
		"out_time_ms=2500000",
		"out_time=00:00:01.000000",
		"out_time_us=5000000",
		"out_time_us=-300",
		"out_time_us=15000000",
		"progress=continue",
		"progress=end",
	}
	var got []float64
	for _, l := range lines {
		if v, ok := p.observe(l); ok {
			got = append(got, v)
		}
	}
	want := []float64{25, 50, 100}
	if len(got) != len(want) {
		t.Fatalf("percentages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("percent[%d] = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestProgressTrackerFirstZero(t *testing.T) {
	p := newProgressTracker(4)
	if v, ok := p.observe("out_time=00:00:00.000000"); !ok || v != 0 {
		t.Errorf("observe = %g, %v; want 0, true", v, ok)
	}
	if _, ok := p.observe("out_time_us=0"); ok {
		t.Error("repeated 0 should not be reported")
	}
}

func TestParseClock(t *testing.T) {
	if v, ok := parseClock("01:02:03.5"); !ok || v != 3723.5 {
		t.Errorf("parseClock = %g, %v", v, ok)
	}
	if _, ok := parseClock("N/A"); ok {
		t.Error("N/A should not parse")
	}
}

func TestLimitedWriterKeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q", buf.String())
	}
	lw.Write([]byte(" world of test data"))
	if got := buf.String(); got != " test data" {
		t.Errorf("after overflow got %q", got)
	}
}

func TestDiagnosticExcerpt(t *testing.T) {
	stderr := "Input #0\n\n[h264] decode error\n[out] Conversion failed!\n   \nError while filtering\n"
	got := diagnosticExcerpt(stderr)
	want := "[h264] decode error | [out] Conversion failed! | Error while filtering"
	if got != want {
		t.Errorf("excerpt = %q, want %q", got, want)
	}
	long := strings.Repeat("x", 2000)
	if got := diagnosticExcerpt(long); len(got) != maxMessageLen+3 {
		t.Errorf("excerpt length = %d", len(got))
	}
}

func TestPartialPath(t *testing.T) {
	if got := partialPath("/out/final cut.mp4"); got != "/out/.final cut.partial.mp4" {
		t.Errorf("partialPath = %q", got)
	}
}

func testGraph(t *testing.T) *rendergraph.Graph {
	t.Helper()
	g, err := rendergraph.NewCompiler(nil, nil).Compile(context.Background(), rendergraph.Request{
		Clips:   []timeline.Clip{{ID: "c1", SourceRef: "a", InTime: 0, OutTime: 4}},
		Options: rendergraph.Options{Resolution: rendergraph.Resolution720p},
		Sources: rendergraph.SourceMap{"a": {Path: "/media/a.mp4", HasAudio: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestBuildArgs(t *testing.T) {
	g := testGraph(t)
	inv, err := g.FFmpeg()
	if err != nil {
		t.Fatal(err)
	}
	args := BuildArgs(DefaultConfig(nil), inv, "/out/x.mp4")
	joined := strings.Join(args, " ")

	if !strings.HasPrefix(joined, "-hide_banner -nostats -y -progress pipe:1 -i /media/a.mp4 ") {
		t.Errorf("args prefix: %s", joined)
	}
	for _, want := range []string{"-c:v libx264", "-preset veryfast", "-crf 23", "-c:a aac", "-b:a 192k", "-t 4"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "/out/x.mp4" {
		t.Errorf("last arg = %q", args[len(args)-1])
	}
}

func TestParseListing(t *testing.T) {
	encoders := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC
 A....D aac                  AAC (Advanced Audio Coding)
`
	filters := `Filters:
  T.. = Timeline support
  | = Source or sink filter
 ... trim              V->V       Pick one continuous section from the input.
 TSC overlay           VV->V      Overlay a video source on top of the input.
 ... anullsrc          |->A       Null audio source, return empty audio frames.
`
	enc := parseListing(encoders)
	if !enc["libx264"] || !enc["aac"] || len(enc) != 2 {
		t.Errorf("encoders = %v", enc)
	}
	flt := parseListing(filters)
	if !flt["trim"] || !flt["overlay"] || !flt["anullsrc"] || len(flt) != 3 {
		t.Errorf("filters = %v", flt)
	}
	if v := parseVersion("ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023\nbuilt with gcc"); v != "6.1.1-3ubuntu5" {
		t.Errorf("version = %q", v)
	}
}

func TestCachedDoctor(t *testing.T) {
	var calls atomic.Int32
	fail := false
	d := NewCachedDoctor(func(ctx context.Context) (*Capabilities, error) {
		calls.Add(1)
		if fail {
			return nil, errors.New("ffmpeg missing")
		}
		return &Capabilities{Version: "6.1", ProbedAt: time.Now()}, nil
	}, nil)

	ctx := context.Background()
	if _, err := d.Get(ctx); err != nil {
		t.Fatal(err)
	}
	d.Get(ctx)
	if calls.Load() != 1 {
		t.Errorf("probe calls = %d, want 1", calls.Load())
	}

	fail = true
	caps, err := d.Refresh(ctx)
	if err != nil || caps.Version != "6.1" {
		t.Errorf("failed refresh should return stale cache, got %v, %v", caps, err)
	}
	d.Invalidate()
	if _, err := d.Get(ctx); err == nil {
		t.Error("expected error with empty cache and failing probe")
	}
}

func TestCapabilitiesReady(t *testing.T) {
	var nilCaps *Capabilities
	if nilCaps.Ready() {
		t.Error("nil capabilities should not be ready")
	}
	if !(&Capabilities{}).Ready() {
		t.Error("empty missing lists should be ready")
	}
	if (&Capabilities{MissingFilters: []string{"scale2ref"}}).Ready() {
		t.Error("missing filter should not be ready")
	}
}

// fakeFFmpeg writes a shell script standing in for ffmpeg. It prints progress
// lines, then either writes the last argument or fails.
func fakeFFmpeg(t *testing.T, fail bool) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	body := `#!/bin/sh
echo "out_time_us=2000000"
echo "progress=end"
for last; do :; done
`
	if fail {
		body += "echo 'Conversion failed!' >&2\nexit 1\n"
	} else {
		body += "printf data > \"$last\"\n"
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("event stream did not close")
		}
	}
}

func TestExecuteSuccess(t *testing.T) {
	cfg := DefaultConfig(nil)
	cfg.FFmpegPath = fakeFFmpeg(t, false)
	exe, err := NewFFmpegExecutor(cfg)
	if err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(t.TempDir(), "exports", "out.mp4")
	events, err := exe.Execute(context.Background(), testGraph(t), target)
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, events)
	if len(got) == 0 {
		t.Fatal("no events")
	}
	last := got[len(got)-1]
	if last.Type != EventSuccess || last.OutputPath != target {
		t.Fatalf("terminal event = %+v", last)
	}
	for _, ev := range got[:len(got)-1] {
		if ev.Type != EventProgress {
			t.Errorf("non-progress event before terminal: %+v", ev)
		}
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("output not in place: %v", err)
	}
	if _, err := os.Stat(partialPath(target)); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
}

func TestExecuteFailure(t *testing.T) {
	cfg := DefaultConfig(nil)
	cfg.FFmpegPath = fakeFFmpeg(t, true)
	exe, err := NewFFmpegExecutor(cfg)
	if err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(t.TempDir(), "out.mp4")
	events, err := exe.Execute(context.Background(), testGraph(t), target)
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, events)
	last := got[len(got)-1]
	if last.Type != EventFailure {
		t.Fatalf("terminal event = %+v", last)
	}
	if !strings.Contains(last.Message, "status 1") || !strings.Contains(last.Message, "Conversion failed!") {
		t.Errorf("failure message = %q", last.Message)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("target should not exist: %v", err)
	}
}

func TestExecuteRejectsEmptyTarget(t *testing.T) {
	cfg := DefaultConfig(nil)
	cfg.FFmpegPath = fakeFFmpeg(t, false)
	exe, err := NewFFmpegExecutor(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := exe.Execute(context.Background(), testGraph(t), ""); err == nil {
		t.Error("expected error for empty target")
	}
}
