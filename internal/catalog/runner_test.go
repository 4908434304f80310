package catalog

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeHandler struct {
	mu   sync.Mutex
	repo Repository
	ran  []string
	done chan string
}

func (f *fakeHandler) RunExport(ctx context.Context, job *Job) error {
	f.mu.Lock()
	f.ran = append(f.ran, job.ID)
	f.mu.Unlock()
	f.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	f.done <- job.ID
	return nil
}

func createJob(t *testing.T, repo Repository, projectID string, created time.Time) *Job {
	t.Helper()
	j := &Job{
		ID:         NewID(),
		ProjectID:  projectID,
		Status:     JobStatusPending,
		OutputPath: "/tmp/out.mp4",
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if err := repo.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func TestRunner_ProcessesPendingJobsInOrder(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := NewService(repo, nil, "", nil)
	p, err := svc.CreateProject(context.Background(), "A", nil)
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-time.Minute).UTC()
	first := createJob(t, repo, p.ID, base)
	second := createJob(t, repo, p.ID, base.Add(time.Second))

	h := &fakeHandler{repo: repo, done: make(chan string, 2)}
	runner := NewRunner(repo, h, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)
	runner.Notify()

	for i, want := range []string{first.ID, second.ID} {
		select {
		case got := <-h.done:
			if got != want {
				t.Errorf("job %d = %s, want %s", i, got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("job %d did not run", i)
		}
	}

	j, _ := repo.GetJob(context.Background(), first.ID)
	if j.Status != JobStatusCompleted {
		t.Errorf("status = %s", j.Status)
	}
}

func TestRunner_PauseSkipsWork(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := NewService(repo, nil, "", nil)
	p, _ := svc.CreateProject(context.Background(), "A", nil)
	job := createJob(t, repo, p.ID, time.Now().UTC())

	h := &fakeHandler{repo: repo, done: make(chan string, 1)}
	runner := NewRunner(repo, h, 10*time.Millisecond, nil)
	runner.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)

	select {
	case id := <-h.done:
		t.Fatalf("paused runner ran %s", id)
	case <-time.After(100 * time.Millisecond):
	}
	if !runner.IsPaused() {
		t.Error("IsPaused = false")
	}

	runner.Resume()
	select {
	case id := <-h.done:
		if id != job.ID {
			t.Errorf("ran %s, want %s", id, job.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("resumed runner did not run the job")
	}
}

func TestRunner_NoHandlerFailsJob(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := NewService(repo, nil, "", nil)
	p, _ := svc.CreateProject(context.Background(), "A", nil)
	job := createJob(t, repo, p.ID, time.Now().UTC())

	runner := NewRunner(repo, nil, time.Hour, nil)
	if !runner.processNextJob(context.Background()) {
		t.Fatal("expected a job to be processed")
	}
	got, _ := repo.GetJob(context.Background(), job.ID)
	if got.Status != JobStatusFailed || got.Error == "" {
		t.Errorf("job = %+v", got)
	}
	if runner.processNextJob(context.Background()) {
		t.Error("no pending jobs should remain")
	}
}

func TestRepository_JobRoundTrip(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := NewService(repo, nil, "", nil)
	ctx := context.Background()
	p, _ := svc.CreateProject(ctx, "A", nil)

	j := createJob(t, repo, p.ID, time.Now().UTC())
	j.Options.Resolution = "720p"
	j2 := &Job{ID: NewID(), ProjectID: p.ID, Status: JobStatusPending, OutputPath: "/x.mp4",
		Options: j.Options, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	j2.Options.Track0Muted = true
	if err := repo.CreateJob(ctx, j2); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetJob(ctx, j2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Options.Resolution != "720p" || !got.Options.Track0Muted || got.ProjectID != p.ID {
		t.Errorf("job = %+v", got)
	}

	if err := repo.UpdateJobProgress(ctx, j2.ID, 40); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateJobStatus(ctx, j2.ID, JobStatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetJob(ctx, j2.ID)
	if got.Progress != 40 || got.Error != "boom" || !got.Finished() || got.UpdatedAt.IsZero() {
		t.Errorf("updated job = %+v", got)
	}

	if missing, err := repo.GetJob(ctx, "nope"); missing != nil || err != nil {
		t.Errorf("missing job = %v, %v", missing, err)
	}
	jobs, _ := repo.ListJobs(ctx, 0)
	if len(jobs) != 2 {
		t.Errorf("ListJobs = %d", len(jobs))
	}
}

func TestSummarizeJobs(t *testing.T) {
	jobs := []*Job{
		{ID: "j4", Status: JobStatusFailed, Error: "ffmpeg exited with status 1"},
		{ID: "j3", Status: JobStatusRunning, Progress: 40},
		{ID: "j2", Status: JobStatusPending},
		{ID: "j1", Status: JobStatusFailed, Error: "older"},
	}

	s := SummarizeJobs(jobs)
	if s.Pending != 1 {
		t.Errorf("Pending = %d, want 1", s.Pending)
	}
	if s.Active == nil || s.Active.ID != "j3" {
		t.Errorf("Active = %+v, want j3", s.Active)
	}
	if s.LastError != "ffmpeg exited with status 1" || !s.LastFailed {
		t.Errorf("LastError = %q LastFailed = %v", s.LastError, s.LastFailed)
	}

	if s := SummarizeJobs(nil); s.Pending != 0 || s.Active != nil || s.LastFailed {
		t.Errorf("empty summary = %+v", s)
	}
}
