package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/config"
	"github.com/cutroom/cutroom-agent/internal/db"
	"github.com/cutroom/cutroom-agent/internal/rendergraph"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

type cliEnv struct {
	dataDir string
	project *catalog.Project
}

// setupCLIEnv points the CLI at a fresh data directory holding one project
// named "Launch Video" with two main-track clips.
func setupCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvDataDir, dir)
	t.Setenv(config.EnvConfigFile, "")

	database, err := db.New(filepath.Join(dir, config.DBFilename), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	defer database.Close()

	cat := catalog.NewService(catalog.NewRepository(database.Conn()), nil, filepath.Join(dir, "thumbnails"), nil)
	snap, err := timeline.NewSnapshot([]timeline.Clip{
		{ID: "c1", SourceRef: "a", InTime: 1, OutTime: 5, Track: timeline.TrackMain},
		{ID: "c2", SourceRef: "a", InTime: 10, OutTime: 12, Track: timeline.TrackMain},
	})
	if err != nil {
		t.Fatal(err)
	}
	doc := timeline.NewDocument(snap, []timeline.LibraryClip{
		{ID: "a", Name: "interview", Path: "/media/interview.mp4", Kind: "video", Duration: 60, HasAudio: true},
	})
	p, err := cat.CreateProject(context.Background(), "Launch Video", &doc)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return &cliEnv{dataDir: dir, project: p}
}

func (e *cliEnv) addProject(t *testing.T, name string) {
	t.Helper()
	database, err := db.New(filepath.Join(e.dataDir, config.DBFilename), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	defer database.Close()
	cat := catalog.NewService(catalog.NewRepository(database.Conn()), nil, "", nil)
	if _, err := cat.CreateProject(context.Background(), name, nil); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestProjectsCommand(t *testing.T) {
	env := setupCLIEnv(t)

	out, _, err := runCLI(t, "projects")
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	requireContains(t, out, env.project.ID)
	requireContains(t, out, "Launch Video")

	out, _, err = runCLI(t, "projects", "--json")
	if err != nil {
		t.Fatalf("projects --json: %v", err)
	}
	var projects []catalog.Project
	if err := json.Unmarshal([]byte(out), &projects); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(projects) != 1 || projects[0].Name != "Launch Video" {
		t.Errorf("projects = %+v", projects)
	}
}

func TestMissingDatabase(t *testing.T) {
	t.Setenv(config.EnvDataDir, t.TempDir())
	t.Setenv(config.EnvConfigFile, "")

	_, _, err := runCLI(t, "projects")
	if err == nil {
		t.Fatal("expected error without a database")
	}
	requireContains(t, err.Error(), "no database")
}

func TestShowCommand(t *testing.T) {
	env := setupCLIEnv(t)

	out, _, err := runCLI(t, "show", "launch video")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Launch Video (revision 1, 6.00s)")
	requireContains(t, out, "main track: 2 clip(s), 6.00s")
	requireContains(t, out, "overlay track: 0 clip(s)")
	requireContains(t, out, "c2")

	out, _, err = runCLI(t, "show", env.project.ID, "--json")
	if err != nil {
		t.Fatalf("show --json: %v", err)
	}
	doc, err := timeline.DecodeDocument([]byte(out))
	if err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if len(doc.TimelineClips) != 2 {
		t.Errorf("clips = %d, want 2", len(doc.TimelineClips))
	}
}

func TestResolveProject(t *testing.T) {
	env := setupCLIEnv(t)
	env.addProject(t, "Dup")
	env.addProject(t, "dup")

	_, _, err := runCLI(t, "show", "dup")
	if err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("show dup error = %v, want ambiguous", err)
	}

	_, _, err = runCLI(t, "show", "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("show missing error = %v, want not found", err)
	}
}

func TestCompileCommand(t *testing.T) {
	setupCLIEnv(t)

	out, _, err := runCLI(t, "compile", "Launch Video", "-r", "720p")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	requireContains(t, out, "1280x720, 6.00s")
	requireContains(t, out, "trim_video")
	requireContains(t, out, "/media/interview.mp4")

	out, _, err = runCLI(t, "compile", "Launch Video", "-r", "720p", "--mute-main", "--json")
	if err != nil {
		t.Fatalf("compile --json: %v", err)
	}
	var g rendergraph.Graph
	if err := json.Unmarshal([]byte(out), &g); err != nil {
		t.Fatalf("decode graph: %v\n%s", err, out)
	}
	if g.Dimensions != (rendergraph.Dimensions{Width: 1280, Height: 720}) {
		t.Errorf("dimensions = %v", g.Dimensions)
	}
	if g.Duration != 6 {
		t.Errorf("duration = %v, want 6", g.Duration)
	}
	if mux, ok := g.Terminal(); !ok || mux.Kind != rendergraph.StageMux {
		t.Errorf("terminal stage = %+v", mux)
	}

	out, _, err = runCLI(t, "compile", "Launch Video", "-r", "720p", "--ffmpeg-args")
	if err != nil {
		t.Fatalf("compile --ffmpeg-args: %v", err)
	}
	requireContains(t, out, "-filter_complex")
	requireContains(t, out, "out.mp4")

	if _, _, err := runCLI(t, "compile", "Launch Video", "-r", "4k"); err == nil {
		t.Error("expected error for unknown resolution")
	}
	if _, _, err := runCLI(t, "compile", "Launch Video", "--json", "--ffmpeg-args"); err == nil {
		t.Error("expected error for exclusive flags")
	}
}

func TestApplyCommand(t *testing.T) {
	env := setupCLIEnv(t)
	dir := t.TempDir()

	script := filepath.Join(dir, "grade.yaml")
	writeFile(t, script, `label: grade
commands:
  - op: filter
    clipId: c1
    filter: sepia
  - op: mute
    clipId: c2
    muted: true
`)
	docPath := filepath.Join(dir, "out.json")

	out, _, err := runCLI(t, "apply", env.project.ID, script, "-o", docPath)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	requireContains(t, out, "saved revision 2")

	data, err := os.ReadFile(docPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	doc, err := timeline.DecodeDocument(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, c := range doc.TimelineClips {
		switch c.ID {
		case "c1":
			if c.Filter != timeline.FilterSepia {
				t.Errorf("c1 filter = %q", c.Filter)
			}
		case "c2":
			if !c.Muted {
				t.Error("c2 not muted")
			}
		}
	}

	out, _, err = runCLI(t, "show", env.project.ID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "revision 2")
}

func TestApplyCommand_DryRun(t *testing.T) {
	env := setupCLIEnv(t)
	script := filepath.Join(t.TempDir(), "delete.json")
	writeFile(t, script, `{
  // drop the second clip
  "commands": [{"op": "delete", "clipId": "c2"}]
}`)

	out, _, err := runCLI(t, "apply", "Launch Video", script, "--dry-run")
	if err != nil {
		t.Fatalf("apply --dry-run: %v", err)
	}
	requireContains(t, out, "dry run, revision 1 unchanged")

	out, _, err = runCLI(t, "show", env.project.ID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "main track: 2 clip(s)")
}

func TestApplyCommand_RejectsBatch(t *testing.T) {
	env := setupCLIEnv(t)
	script := filepath.Join(t.TempDir(), "bad.json")
	writeFile(t, script, `{"commands": [
  {"op": "mute", "clipId": "c1", "muted": true},
  {"op": "filter", "clipId": "c2", "filter": "posterize"}
]}`)

	_, _, err := runCLI(t, "apply", env.project.ID, script)
	if err == nil {
		t.Fatal("expected batch error")
	}
	requireContains(t, err.Error(), "command 1 (filter)")

	out, _, err := runCLI(t, "show", env.project.ID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "revision 1")
}

func TestExportCommand_LockHeld(t *testing.T) {
	env := setupCLIEnv(t)

	held := flock.New(filepath.Join(env.dataDir, config.LockFilename))
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock() = %v, %v", locked, err)
	}
	defer held.Unlock()

	_, _, err = runCLI(t, "export", "Launch Video", "-o", filepath.Join(t.TempDir(), "out.mp4"))
	if err == nil {
		t.Fatal("expected error while the lock is held")
	}
	requireContains(t, err.Error(), "another export is running")
}

func TestExportCommand_RequiresOutput(t *testing.T) {
	setupCLIEnv(t)
	if _, _, err := runCLI(t, "export", "Launch Video"); err == nil {
		t.Fatal("expected error without --output")
	}
}

func TestProgressReporter(t *testing.T) {
	var buf bytes.Buffer
	report := progressReporter(&buf)
	for _, p := range []float64{2, 12.5, 14, 55, 100} {
		report(p)
	}
	report(-1)

	if got, want := buf.String(), "0%\n10%\n50%\n100%\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvDataDir, dir)
	t.Setenv(config.EnvConfigFile, "")

	out, _, err := runCLI(t, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	path := filepath.Join(dir, config.ConfigFilename)
	requireContains(t, out, path)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config at %s: %v", path, err)
	}

	if _, _, err := runCLI(t, "config", "init"); err == nil {
		t.Error("expected error when the config already exists")
	}

	out, _, err = runCLI(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, path)
	requireContains(t, out, dir)
	requireContains(t, out, "libx264/veryfast crf 23")

	other := filepath.Join(t.TempDir(), "nested", "cutroom.toml")
	if _, _, err := runCLI(t, "config", "init", "--path", other); err != nil {
		t.Fatalf("config init --path: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("expected config at %s: %v", other, err)
	}
}
