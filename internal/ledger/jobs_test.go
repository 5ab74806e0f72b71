package ledger_test

import (
	"context"
	"errors"
	"testing"

	"drumscribe/internal/ledger"
	"drumscribe/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job, err := store.Create(ctx, "groove.wav", 2048)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != ledger.StatusPending {
		t.Fatalf("expected pending status, got %s", job.Status)
	}
	if job.Progress != 0 {
		t.Fatalf("expected zero progress, got %d", job.Progress)
	}
	if job.StartedAt != nil || job.CompletedAt != nil {
		t.Fatal("expected no start or completion timestamps on a new job")
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Filename != "groove.wav" || fetched.SizeBytes != 2048 {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
}

func TestCreateRequiresFilename(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	if _, err := store.Create(context.Background(), "  ", 10); err == nil {
		t.Fatal("expected error when filename missing")
	}
}

func TestGetUnknownJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	first, err := store.Create(ctx, "first.wav", 1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Create(ctx, "second.wav", 1); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Transition(ctx, first.ID, ledger.StatusUploading, ledger.StageNone, ledger.ProgressUploading, ""); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}

	pending, err := store.List(ctx, ledger.StatusPending)
	if err != nil {
		t.Fatalf("List filtered failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Filename != "second.wav" {
		t.Fatalf("unexpected filtered jobs: %#v", pending)
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Create(ctx, "take.wav", 1); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	job, err := store.Create(ctx, "done.wav", 1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.MarkError(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("MarkError failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[ledger.StatusPending] != 3 || stats[ledger.StatusError] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}

func TestDeleteRemovesJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job, err := store.Create(ctx, "gone.wav", 1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, job.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, job.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSetResultRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job, err := store.Create(ctx, "song.wav", 1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	want := ledger.Result{Tempo: 128, TimeSignature: "3/4", DurationSeconds: 42.5, AccuracyScore: 0.91}
	if err := store.SetResult(ctx, job.ID, want); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got, err := fetched.ResultFor()
	if err != nil {
		t.Fatalf("ResultFor failed: %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestResultForEmpty(t *testing.T) {
	job := &ledger.Job{}
	result, err := job.ResultFor()
	if err != nil {
		t.Fatalf("ResultFor failed: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result, got %#v", result)
	}
}

func TestSetSourceKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job, err := store.Create(ctx, "audio.flac", 1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.SetSourceKey(ctx, job.ID, "audio/"+job.ID+"/audio.flac"); err != nil {
		t.Fatalf("SetSourceKey failed: %v", err)
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.SourceKey != "audio/"+job.ID+"/audio.flac" {
		t.Fatalf("unexpected source key: %q", fetched.SourceKey)
	}
}
