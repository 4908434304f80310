package export

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/db"
	"github.com/cutroom/cutroom-agent/internal/execution"
	"github.com/cutroom/cutroom-agent/internal/faults"
	"github.com/cutroom/cutroom-agent/internal/metrics"
	"github.com/cutroom/cutroom-agent/internal/rendergraph"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

type fakeExecutor struct {
	events  []execution.Event
	block   bool // wait for cancellation instead of replaying events
	calls   atomic.Int32
	started chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, g *rendergraph.Graph, target string) (<-chan execution.Event, error) {
	f.calls.Add(1)
	ch := make(chan execution.Event, len(f.events)+1)
	if !f.block {
		for _, ev := range f.events {
			ch <- ev
		}
		close(ch)
		return ch, nil
	}
	go func() {
		defer close(ch)
		if f.started != nil {
			close(f.started)
		}
		<-ctx.Done()
		ch <- execution.FailureEvent("export cancelled")
	}()
	return ch, nil
}

type fakeDoctor struct {
	caps *execution.Capabilities
}

func (f fakeDoctor) Get(ctx context.Context) (*execution.Capabilities, error) {
	return f.caps, nil
}

type fixture struct {
	svc      *Service
	repo     catalog.Repository
	catalog  *catalog.Service
	exec     *fakeExecutor
	metrics  *metrics.Metrics
	project  *catalog.Project
	lockPath string
	notified atomic.Int32
}

func newFixture(t *testing.T, doctor Doctor) *fixture {
	t.Helper()
	dir := t.TempDir()
	database, err := db.New(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	cat := catalog.NewService(repo, nil, filepath.Join(dir, "thumbs"), nil)

	snap, err := timeline.NewSnapshot([]timeline.Clip{
		{ID: "c1", SourceRef: "a", InTime: 1, OutTime: 5, Track: timeline.TrackMain},
		{ID: "c2", SourceRef: "a", InTime: 10, OutTime: 12, Track: timeline.TrackMain, Filter: "grayscale"},
	})
	if err != nil {
		t.Fatal(err)
	}
	doc := timeline.NewDocument(snap, []timeline.LibraryClip{
		{ID: "a", Name: "interview", Path: "/media/interview.mp4", Kind: "video", Duration: 60, HasAudio: true},
	})
	project, err := cat.CreateProject(context.Background(), "Launch Video", &doc)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		repo:     repo,
		catalog:  cat,
		exec:     &fakeExecutor{},
		metrics:  metrics.New(nil),
		project:  project,
		lockPath: filepath.Join(dir, "export.lock"),
	}
	f.svc = NewService(repo, cat, rendergraph.NewCompiler(nil, nil), f.exec, Config{
		ExportsDir: filepath.Join(dir, "exports"),
		LockPath:   f.lockPath,
		Doctor:     doctor,
		Metrics:    f.metrics,
		Notify:     func() { f.notified.Add(1) },
	})
	return f
}

func (f *fixture) submit(t *testing.T) *catalog.Job {
	t.Helper()
	job, err := f.svc.Submit(context.Background(), f.project.ID, Request{
		Options: rendergraph.Options{Resolution: rendergraph.Resolution720p},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return job
}

func drain(ch <-chan Update) []Update {
	var out []Update
	for {
		select {
		case u := <-ch:
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestService_SubmitQueuesJob(t *testing.T) {
	f := newFixture(t, nil)
	job := f.submit(t)

	if job.Status != catalog.JobStatusPending || job.Revision != f.project.Revision {
		t.Errorf("job = %+v", job)
	}
	if filepath.Base(job.OutputPath) != "Launch Video.mp4" {
		t.Errorf("OutputPath = %q", job.OutputPath)
	}
	if f.notified.Load() != 1 {
		t.Errorf("notify calls = %d, want 1", f.notified.Load())
	}

	stored, err := f.svc.Job(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Options.Resolution != rendergraph.Resolution720p {
		t.Errorf("stored options = %+v", stored.Options)
	}
}

func TestService_SubmitRejectsUncompilableProject(t *testing.T) {
	f := newFixture(t, nil)
	empty, err := f.catalog.CreateProject(context.Background(), "Empty", nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.Submit(context.Background(), empty.ID, Request{})
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("Submit() error = %v, want validation error", err)
	}
	jobs, _ := f.svc.List(context.Background(), 10)
	if len(jobs) != 0 {
		t.Errorf("jobs = %d, want none queued", len(jobs))
	}

	_, err = f.svc.Submit(context.Background(), f.project.ID, Request{OutputDir: "relative/dir"})
	if !errors.Is(err, faults.ErrValidation) {
		t.Errorf("Submit(relative dir) error = %v", err)
	}
}

func TestService_RunExportCompletes(t *testing.T) {
	f := newFixture(t, nil)
	job := f.submit(t)
	f.exec.events = []execution.Event{
		execution.ProgressEvent(10.2),
		execution.ProgressEvent(10.7),
		execution.ProgressEvent(55),
		execution.SuccessEvent(job.OutputPath),
	}

	updates, stop := f.svc.Subscribe(job.ID)
	defer stop()

	if err := f.svc.RunExport(context.Background(), job); err != nil {
		t.Fatalf("RunExport() error = %v", err)
	}

	got, _ := f.svc.Job(context.Background(), job.ID)
	if got.Status != catalog.JobStatusCompleted || got.Progress != 100 || got.Error != "" {
		t.Errorf("job = %+v", got)
	}

	var statuses []string
	for _, u := range drain(updates) {
		statuses = append(statuses, u.Status)
	}
	want := "running running running completed"
	if strings.Join(statuses, " ") != want {
		t.Errorf("updates = %v, want %s", statuses, want)
	}
}

func TestService_SlowSubscriberGetsFinalStatus(t *testing.T) {
	f := newFixture(t, nil)
	job := f.submit(t)
	for p := 1; p <= 40; p++ {
		f.exec.events = append(f.exec.events, execution.ProgressEvent(float64(p)))
	}
	f.exec.events = append(f.exec.events, execution.SuccessEvent(job.OutputPath))

	updates, stop := f.svc.Subscribe(job.ID)
	defer stop()

	if err := f.svc.RunExport(context.Background(), job); err != nil {
		t.Fatalf("RunExport() error = %v", err)
	}

	got := drain(updates)
	if len(got) == 0 || len(got) > subscriberBuffer {
		t.Fatalf("received %d updates, want 1..%d", len(got), subscriberBuffer)
	}
	last := got[len(got)-1]
	if last.Status != catalog.JobStatusCompleted || last.Percent != 100 {
		t.Errorf("last update = %+v, want completed at 100%%", last)
	}

	// A full buffer also makes room for a later failure of another job.
	all, stopAll := f.svc.Subscribe("")
	defer stopAll()
	for i := 0; i < 2*subscriberBuffer; i++ {
		f.svc.broadcast(Update{JobID: "j2", Status: catalog.JobStatusRunning, Percent: float64(i)})
	}
	f.svc.broadcast(Update{JobID: "j2", Status: catalog.JobStatusFailed, Message: "boom"})
	got = drain(all)
	if last := got[len(got)-1]; last.Status != catalog.JobStatusFailed {
		t.Errorf("last update = %+v, want failed", last)
	}
}

func TestService_RunExportFailure(t *testing.T) {
	f := newFixture(t, nil)
	job := f.submit(t)
	f.exec.events = []execution.Event{execution.FailureEvent("ffmpeg exited with status 1: Invalid data")}

	err := f.svc.RunExport(context.Background(), job)
	if err == nil {
		t.Fatal("RunExport() expected error")
	}
	got, _ := f.svc.Job(context.Background(), job.ID)
	if got.Status != catalog.JobStatusFailed || !strings.Contains(got.Error, "Invalid data") {
		t.Errorf("job = %+v", got)
	}
}

func TestService_RunExportDoctorNotReady(t *testing.T) {
	f := newFixture(t, fakeDoctor{caps: &execution.Capabilities{MissingFilters: []string{"overlay"}}})
	job := f.submit(t)

	if err := f.svc.RunExport(context.Background(), job); err == nil {
		t.Fatal("RunExport() expected error")
	}
	if f.exec.calls.Load() != 0 {
		t.Error("executor ran despite missing filters")
	}
	got, _ := f.svc.Job(context.Background(), job.ID)
	if got.Status != catalog.JobStatusFailed || !strings.Contains(got.Error, "overlay") {
		t.Errorf("job = %+v", got)
	}
}

func TestService_RunExportLockBusy(t *testing.T) {
	f := newFixture(t, nil)
	job := f.submit(t)

	held := flock.New(f.lockPath)
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	defer held.Unlock()

	if err := f.svc.RunExport(context.Background(), job); !errors.Is(err, ErrExportBusy) {
		t.Fatalf("RunExport() error = %v, want ErrExportBusy", err)
	}
	got, _ := f.svc.Job(context.Background(), job.ID)
	if got.Status != catalog.JobStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestService_CancelPending(t *testing.T) {
	f := newFixture(t, nil)
	job := f.submit(t)
	ctx := context.Background()

	if err := f.svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := f.svc.Cancel(ctx, job.ID); !errors.Is(err, ErrJobFinished) {
		t.Errorf("second Cancel() error = %v, want ErrJobFinished", err)
	}
	if err := f.svc.Cancel(ctx, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Cancel(missing) error = %v", err)
	}

	// A withdrawn job is skipped when the runner reaches it.
	if err := f.svc.RunExport(ctx, job); err != nil {
		t.Fatalf("RunExport() error = %v", err)
	}
	if f.exec.calls.Load() != 0 {
		t.Error("executor ran for a cancelled job")
	}
}

func TestService_CancelRunning(t *testing.T) {
	f := newFixture(t, nil)
	job := f.submit(t)
	f.exec.block = true
	f.exec.started = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.svc.RunExport(context.Background(), job) }()

	select {
	case <-f.exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("executor never started")
	}
	if !f.svc.Running() {
		t.Error("Running() = false during export")
	}
	if err := f.svc.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunExport() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunExport did not return after cancel")
	}
	got, _ := f.svc.Job(context.Background(), job.ID)
	if got.Status != catalog.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestService_SubscribeFiltersByJob(t *testing.T) {
	f := newFixture(t, nil)
	all, stopAll := f.svc.Subscribe("")
	other, stopOther := f.svc.Subscribe("someone-else")
	defer stopAll()

	f.submit(t)
	if n := len(drain(all)); n != 1 {
		t.Errorf("all-jobs subscriber got %d updates, want 1", n)
	}
	if n := len(drain(other)); n != 0 {
		t.Errorf("filtered subscriber got %d updates, want 0", n)
	}

	stopOther()
	stopOther()
	if _, ok := <-other; ok {
		t.Error("channel open after stop")
	}
}

func TestService_EDL(t *testing.T) {
	f := newFixture(t, nil)
	edl, err := f.svc.EDL(context.Background(), f.project.ID, 25)
	if err != nil {
		t.Fatalf("EDL() error = %v", err)
	}
	for _, want := range []string{
		"TITLE: Launch Video",
		"001  AX       B     C        00:00:01:00 00:00:05:00 00:00:00:00 00:00:04:00",
		"002  AX       B     C        00:00:10:00 00:00:12:00 00:00:04:00 00:00:06:00",
		"* MEDIA PATH:  /media/interview.mp4",
		"* EFFECT:  grayscale",
	} {
		if !strings.Contains(edl, want) {
			t.Errorf("EDL missing %q:\n%s", want, edl)
		}
	}
}
