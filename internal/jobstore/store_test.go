package jobstore_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dicomdisc/internal/jobstore"
	"dicomdisc/internal/services"
	"dicomdisc/internal/testsupport"
)

func TestCreateUpdateAndGetJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := &jobstore.Job{ID: "job-1", State: "created", OutputPath: "/tmp/out.iso", IncludeRenditions: true}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	job.State = jobstore.StateDone
	job.Total = 4
	job.Processed = 4
	job.Skipped = 1
	job.ArchiveBytes = 2048
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != jobstore.StateDone || got.Processed != 4 || got.Skipped != 1 || got.ArchiveBytes != 2048 {
		t.Fatalf("unexpected job %+v", got)
	}
	if !got.IncludeRenditions || got.IncludeViewer {
		t.Fatalf("unexpected flags %+v", got)
	}
	if got.FinishedAt.IsZero() {
		t.Fatal("expected finished_at to be stamped for terminal state")
	}

	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateJob(ctx, &jobstore.Job{ID: "missing", State: "staging"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		job := &jobstore.Job{ID: id, State: jobstore.StateDone, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}
	jobs, err := store.ListJobs(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].ID != "c" || jobs[1].ID != "b" {
		t.Fatalf("unexpected order: %v", jobs)
	}
}

func TestMarkInterruptedAndActiveIDs(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	for _, job := range []*jobstore.Job{
		{ID: "running", State: "staging"},
		{ID: "finished", State: jobstore.StateDone},
	} {
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	active, err := store.ActiveJobIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := active["running"]; !ok || len(active) != 1 {
		t.Fatalf("unexpected active set %v", active)
	}

	n, err := store.MarkInterrupted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 interrupted, got %d", n)
	}
	job, err := store.GetJob(ctx, "running")
	if err != nil {
		t.Fatal(err)
	}
	if job.State != jobstore.StateInterrupted || job.ErrorKind != "interrupted" {
		t.Fatalf("unexpected job %+v", job)
	}

	pruned, err := store.PruneFinished(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 2 {
		t.Fatalf("expected 2 pruned, got %d", pruned)
	}
}

func TestPreferencesDefaultAndRoundTrip(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	prefs, err := store.LoadPreferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !prefs.IncludeRenditions || !prefs.IncludeViewer || prefs.LastFolder != "" {
		t.Fatalf("unexpected defaults %+v", prefs)
	}

	prefs.IncludeViewer = false
	prefs.LastFolder = "/media/burn"
	if err := store.SavePreferences(ctx, prefs); err != nil {
		t.Fatal(err)
	}
	raw, ok, err := store.Get(ctx, jobstore.KeyIncludeViewer)
	if err != nil || !ok || raw != "false" {
		t.Fatalf("stored viewer preference = %q ok=%v err=%v", raw, ok, err)
	}

	reloaded, err := store.LoadPreferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded != prefs {
		t.Fatalf("reloaded %+v, want %+v", reloaded, prefs)
	}

	if err := store.Set(ctx, jobstore.KeyIncludeRenditions, "garbage"); err != nil {
		t.Fatal(err)
	}
	reloaded, err = store.LoadPreferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.IncludeRenditions {
		t.Fatal("unrecognised toggle value should read as false")
	}

	if err := store.Set(ctx, jobstore.KeyIncludeRenditions, "TRUE"); err != nil {
		t.Fatal(err)
	}
	reloaded, err = store.LoadPreferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.IncludeRenditions {
		t.Fatal("expected TRUE to read as true")
	}
}

func TestCreateTerminalJobIsPrunable(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := &jobstore.Job{
		ID:           "imported",
		State:        jobstore.StateFailed,
		ErrorKind:    "archive_build",
		ErrorMessage: "disk full",
	}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if job.FinishedAt.IsZero() {
		t.Fatal("expected finished_at stamped on a terminal insert")
	}
	got, err := store.GetJob(ctx, "imported")
	if err != nil {
		t.Fatal(err)
	}
	if got.FinishedAt.IsZero() || got.ErrorKind != "archive_build" || got.ErrorMessage != "disk full" {
		t.Fatalf("unexpected stored job %+v", got)
	}

	pending := &jobstore.Job{ID: "pending", State: "staging"}
	if err := store.CreateJob(ctx, pending); err != nil {
		t.Fatal(err)
	}
	if !pending.FinishedAt.IsZero() {
		t.Fatal("non-terminal insert must not be stamped finished")
	}

	pruned, err := store.PruneFinished(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}
	if _, err := store.GetJob(ctx, "pending"); err != nil {
		t.Fatalf("pending job should survive prune: %v", err)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := jobstore.OpenPath(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	if _, err := jobstore.OpenPath(path); !errors.Is(err, jobstore.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
