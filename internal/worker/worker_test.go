package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"drumscribe/internal/artifacts"
	"drumscribe/internal/config"
	"drumscribe/internal/ledger"
	"drumscribe/internal/logging"
	"drumscribe/internal/pipeline"
	"drumscribe/internal/taskqueue"
	"drumscribe/internal/testsupport"
	"drumscribe/internal/worker"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []ledger.ProgressEvent
}

func (c *capturePublisher) Publish(event ledger.ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturePublisher) snapshot() []ledger.ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ledger.ProgressEvent(nil), c.events...)
}

type fixture struct {
	cfg       *config.Config
	store     *ledger.Store
	queue     *taskqueue.Queue
	artifacts *artifacts.Store
	publisher *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	publisher := &capturePublisher{}
	return &fixture{
		cfg:       cfg,
		store:     testsupport.MustOpenLedger(t, cfg, ledger.WithPublisher(publisher)),
		queue:     testsupport.MustOpenQueue(t, cfg),
		artifacts: testsupport.MustOpenArtifacts(t, cfg),
		publisher: publisher,
	}
}

// submit mirrors the upload path: record the job, stage its audio, enqueue.
func (f *fixture) submit(t *testing.T, audio []byte) *ledger.Job {
	t.Helper()
	ctx := context.Background()
	job, err := f.store.Create(ctx, "take.wav", int64(len(audio)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	key, err := f.artifacts.PutInput(ctx, job.ID, job.Filename, "audio/wav", audio)
	if err != nil {
		t.Fatalf("PutInput failed: %v", err)
	}
	if err := f.store.SetSourceKey(ctx, job.ID, key); err != nil {
		t.Fatalf("SetSourceKey failed: %v", err)
	}
	if _, err := f.queue.Enqueue(ctx, job.ID); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	job.SourceKey = key
	return job
}

// runUntil starts a worker and blocks until the condition holds or the test
// times out.
func (f *fixture) runUntil(t *testing.T, engine pipeline.Engine, condition func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := worker.New("worker-test", f.cfg, f.store, f.queue, f.artifacts, engine, nil, logging.NewNop())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(10 * time.Second)
	for !condition() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for worker")
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker returned error: %v", err)
	}
}

func (f *fixture) jobIsTerminal(t *testing.T, id string) func() bool {
	return func() bool {
		job, err := f.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		return job.IsTerminal()
	}
}

func (f *fixture) queueIsEmpty(t *testing.T) func() bool {
	return func() bool {
		queued, leased, err := f.queue.Depth(context.Background())
		return err == nil && queued == 0 && leased == 0
	}
}

func TestWorkerCompletesJob(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, make([]byte, 44100))

	f.runUntil(t, &pipeline.Stub{}, f.jobIsTerminal(t, job.ID))

	ctx := context.Background()
	final, err := f.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if final.Status != ledger.StatusCompleted || final.Progress != 100 {
		t.Fatalf("unexpected final state: %s %d (%s)", final.Status, final.Progress, final.ErrorMessage)
	}
	result, err := final.ResultFor()
	if err != nil || result == nil {
		t.Fatalf("expected persisted result, got %#v (%v)", result, err)
	}
	if result.Tempo != 120 {
		t.Fatalf("unexpected result: %#v", result)
	}

	records, err := f.artifacts.List(ctx, job.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != len(artifacts.AllFormats()) {
		t.Fatalf("expected %d artifacts, got %d", len(artifacts.AllFormats()), len(records))
	}

	queued, leased, err := f.queue.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if queued != 0 || leased != 0 {
		t.Fatalf("expected drained queue, got %d/%d", queued, leased)
	}

	want := []struct {
		status   ledger.Status
		progress int
	}{
		{ledger.StatusUploading, 10},
		{ledger.StatusValidating, 20},
		{ledger.StatusProcessing, 30},
		{ledger.StatusProcessing, 40},
		{ledger.StatusProcessing, 70},
		{ledger.StatusProcessing, 80},
		{ledger.StatusProcessing, 90},
		{ledger.StatusCompleted, 100},
	}
	events := f.publisher.snapshot()
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %#v", len(want), len(events), events)
	}
	for i, w := range want {
		if events[i].Status != w.status || events[i].Progress != w.progress {
			t.Fatalf("event %d mismatch: want %s/%d, got %s/%d",
				i, w.status, w.progress, events[i].Status, events[i].Progress)
		}
	}
}

func TestWorkerRecordsFailureTerminally(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, make([]byte, 1024))

	engine := &pipeline.Stub{
		FailStage:   ledger.StageTranscribing,
		FailMessage: "unsupported sample rate",
	}
	f.runUntil(t, engine, f.jobIsTerminal(t, job.ID))

	ctx := context.Background()
	final, err := f.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if final.Status != ledger.StatusError {
		t.Fatalf("expected error status, got %s", final.Status)
	}
	if final.ErrorMessage != "unsupported sample rate" {
		t.Fatalf("unexpected error message: %q", final.ErrorMessage)
	}
	if final.Progress != 70 {
		t.Fatalf("expected progress frozen at transcribing (70), got %d", final.Progress)
	}
	if final.CompletedAt == nil {
		t.Fatal("expected completion timestamp on failed job")
	}

	records, err := f.artifacts.List(ctx, job.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no artifacts for failed job, got %d", len(records))
	}
}

func TestWorkerResumesRedeliveredJob(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, make([]byte, 1024))

	// Simulate a previous attempt that died mid source separation after its
	// lease expired: the ledger already carries the partial lifecycle and one
	// export was already stored.
	ctx := context.Background()
	steps := []struct {
		status   ledger.Status
		stage    ledger.Stage
		progress int
	}{
		{ledger.StatusUploading, ledger.StageNone, 10},
		{ledger.StatusValidating, ledger.StageNone, 20},
		{ledger.StatusProcessing, ledger.StagePreprocessing, 30},
		{ledger.StatusProcessing, ledger.StageSourceSeparation, 40},
	}
	for _, st := range steps {
		if _, err := f.store.Transition(ctx, job.ID, st.status, st.stage, st.progress, ""); err != nil {
			t.Fatalf("Transition failed: %v", err)
		}
	}
	preexisting, err := f.artifacts.Write(ctx, job.ID, artifacts.FormatMIDI, []byte("partial"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	eventsBefore := len(f.publisher.snapshot())

	f.runUntil(t, &pipeline.Stub{}, f.jobIsTerminal(t, job.ID))

	final, err := f.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if final.Status != ledger.StatusCompleted || final.Progress != 100 {
		t.Fatalf("unexpected final state: %s %d (%s)", final.Status, final.Progress, final.ErrorMessage)
	}

	// The resumed attempt re-runs its current stage and continues forward.
	resumed := f.publisher.snapshot()[eventsBefore:]
	if len(resumed) == 0 {
		t.Fatal("expected events from the resumed attempt")
	}
	if resumed[0].Stage != ledger.StageSourceSeparation {
		t.Fatalf("expected resume at source separation, got %s", resumed[0].Stage)
	}
	for _, event := range resumed {
		if ledger.CompareStage(event.Stage, ledger.StageSourceSeparation) < 0 {
			t.Fatalf("resumed attempt replayed earlier stage %s", event.Stage)
		}
	}

	// Re-generated exports must not duplicate or replace existing rows.
	records, err := f.artifacts.List(ctx, job.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != len(artifacts.AllFormats()) {
		t.Fatalf("expected %d artifacts, got %d", len(artifacts.AllFormats()), len(records))
	}
	midi, err := f.artifacts.Resolve(ctx, job.ID, artifacts.FormatMIDI)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !midi.CreatedAt.Equal(preexisting.CreatedAt) {
		t.Fatalf("expected original export record preserved")
	}
}

func TestWorkerDropsStaleDeliveryForFinishedJob(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, make([]byte, 16))

	ctx := context.Background()
	if _, err := f.store.Transition(ctx, job.ID, ledger.StatusCompleted, ledger.StageCompleted, 100, ""); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	eventsBefore := len(f.publisher.snapshot())

	f.runUntil(t, &pipeline.Stub{}, f.queueIsEmpty(t))

	if after := len(f.publisher.snapshot()); after != eventsBefore {
		t.Fatalf("expected no events for stale delivery, got %d new", after-eventsBefore)
	}
}

func TestWorkerDropsDeliveryForDeletedJob(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, make([]byte, 16))

	ctx := context.Background()
	if err := f.store.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	f.runUntil(t, &pipeline.Stub{}, f.queueIsEmpty(t))
}

func TestWorkerRetriesAfterDequeueFailure(t *testing.T) {
	f := newFixture(t)
	// Break the queue so every dequeue fails.
	if err := f.queue.Close(); err != nil {
		t.Fatalf("close queue: %v", err)
	}

	w := worker.New("worker-test", f.cfg, f.store, f.queue, f.artifacts, &pipeline.Stub{}, nil, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The worker backs off and retries instead of exiting.
	select {
	case err := <-done:
		t.Fatalf("worker exited instead of retrying: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
