package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"drumscribe/internal/artifacts"
	"drumscribe/internal/config"
	"drumscribe/internal/ledger"
	"drumscribe/internal/logging"
	"drumscribe/internal/notifications"
	"drumscribe/internal/pipeline"
	"drumscribe/internal/taskqueue"
)

// Worker processes one queued job at a time.
type Worker struct {
	id            string
	store         *ledger.Store
	queue         *taskqueue.Queue
	artifacts     *artifacts.Store
	engine        pipeline.Engine
	notifier      notifications.Service
	logger        *slog.Logger
	renewInterval time.Duration
	retryInterval time.Duration
}

// New builds a worker with the given identity.
func New(
	id string,
	cfg *config.Config,
	store *ledger.Store,
	queue *taskqueue.Queue,
	artifactStore *artifacts.Store,
	engine pipeline.Engine,
	notifier notifications.Service,
	logger *slog.Logger,
) *Worker {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Worker{
		id:            id,
		store:         store,
		queue:         queue,
		artifacts:     artifactStore,
		engine:        engine,
		notifier:      notifier,
		logger:        logging.NewComponentLogger(logger, "worker").With(logging.String("worker_id", id)),
		renewInterval: time.Duration(cfg.Queue.LeaseRenewInterval) * time.Second,
		retryInterval: time.Duration(cfg.Queue.ErrorRetryInterval) * time.Second,
	}
}

// Run dequeues and processes jobs until the context is canceled. Dequeue
// failures are retried after the configured error retry interval rather than
// stopping the worker.
func (w *Worker) Run(ctx context.Context) error {
	for {
		item, err := w.queue.Dequeue(ctx, w.id)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			w.logger.Error("dequeue failed, retrying", logging.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.retryInterval):
			}
			continue
		}
		w.process(ctx, item)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// step is one lifecycle advance paired with the engine work it gates.
type step struct {
	status   ledger.Status
	stage    ledger.Stage
	progress int
	message  string
	run      func(ctx context.Context, req *pipeline.Request) error
}

func (w *Worker) process(ctx context.Context, item *taskqueue.Item) {
	logger := w.logger.With(logging.String(logging.FieldJobID, item.JobID))
	if item.Attempt > 1 {
		logger.Info("picked up redelivered job", logging.Int("attempt", item.Attempt))
	}

	job, err := w.store.Get(ctx, item.JobID)
	if errors.Is(err, ledger.ErrNotFound) {
		logger.Warn("queued job no longer exists, dropping")
		w.ack(ctx, item, logger)
		return
	}
	if err != nil {
		logger.Error("load job", logging.Error(err))
		w.release(item, logger)
		return
	}
	if job.IsTerminal() {
		logger.Info("job already finished, dropping stale delivery",
			logging.String(logging.FieldStatus, string(job.Status)))
		w.ack(ctx, item, logger)
		return
	}

	// The lease keeper cancels workCtx when the lease cannot be held, so a
	// redelivered job is never processed by two workers at once.
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	keeperDone := make(chan struct{})
	go w.keepLease(workCtx, cancel, item, keeperDone, logger)
	defer func() {
		cancel()
		<-keeperDone
	}()

	if err := w.runJob(workCtx, job, logger); err != nil {
		if workCtx.Err() != nil {
			// Shutdown or lost lease. Requeue so another attempt resumes.
			w.release(item, logger)
			return
		}
		logger.Error("job failed", logging.Error(err))
		failed, markErr := w.store.MarkError(context.WithoutCancel(ctx), job.ID, err.Error())
		if markErr != nil {
			logger.Error("record job failure", logging.Error(markErr))
		} else if notifyErr := w.notifier.NotifyJobFailed(context.WithoutCancel(ctx), failed, err.Error()); notifyErr != nil {
			logger.Warn("send failure notification", logging.Error(notifyErr))
		}
		w.ack(ctx, item, logger)
		return
	}

	w.ack(ctx, item, logger)
}

// runJob walks a job through the lifecycle, skipping steps the job already
// passed so redelivered work resumes where the previous attempt stopped.
func (w *Worker) runJob(ctx context.Context, job *ledger.Job, logger *slog.Logger) error {
	req := &pipeline.Request{JobID: job.ID, Filename: job.Filename}

	var result *ledger.Result
	steps := []step{
		{
			status:   ledger.StatusUploading,
			progress: ledger.ProgressUploading,
			message:  "staging uploaded audio",
			run: func(ctx context.Context, req *pipeline.Request) error {
				return w.loadAudio(ctx, job, req)
			},
		},
		{
			status:   ledger.StatusValidating,
			progress: ledger.ProgressValidating,
			message:  "validating audio",
			run: func(ctx context.Context, req *pipeline.Request) error {
				if len(req.Audio) == 0 {
					return errors.New("uploaded audio is empty")
				}
				return nil
			},
		},
		{
			status:  ledger.StatusProcessing,
			stage:   ledger.StagePreprocessing,
			message: "preprocessing audio",
			run:     w.engine.Preprocess,
		},
		{
			status:  ledger.StatusProcessing,
			stage:   ledger.StageSourceSeparation,
			message: "isolating percussion",
			run:     w.engine.SeparateSources,
		},
		{
			status:  ledger.StatusProcessing,
			stage:   ledger.StageTranscribing,
			message: "transcribing drum events",
			run:     w.engine.Transcribe,
		},
		{
			status:  ledger.StatusProcessing,
			stage:   ledger.StagePostProcessing,
			message: "quantizing transcription",
			run: func(ctx context.Context, req *pipeline.Request) error {
				res, err := w.engine.PostProcess(ctx, req)
				if err != nil {
					return err
				}
				result = res
				return w.store.SetResult(ctx, job.ID, *res)
			},
		},
		{
			status:  ledger.StatusProcessing,
			stage:   ledger.StageGeneratingExports,
			message: "rendering exports",
			run: func(ctx context.Context, req *pipeline.Request) error {
				return w.writeExports(ctx, req)
			},
		},
	}

	for _, st := range steps {
		if job.Passed(st.status, st.stage) {
			// A resumed attempt still needs the audio for later stages.
			if st.status == ledger.StatusUploading && len(req.Audio) == 0 {
				if err := w.loadAudio(ctx, job, req); err != nil {
					return err
				}
			}
			continue
		}

		progress := st.progress
		if st.stage != ledger.StageNone {
			progress = st.stage.TargetProgress()
		}
		if _, err := w.store.Transition(ctx, job.ID, st.status, st.stage, progress, st.message); err != nil {
			return fmt.Errorf("advance to %s: %w", st.message, err)
		}
		if err := st.run(ctx, req); err != nil {
			return err
		}
	}

	completed, err := w.store.Transition(
		ctx, job.ID, ledger.StatusCompleted, ledger.StageCompleted,
		ledger.ProgressCompleted, "transcription complete",
	)
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}

	if result == nil {
		result, _ = completed.ResultFor()
	}
	if notifyErr := w.notifier.NotifyJobCompleted(context.WithoutCancel(ctx), completed, result); notifyErr != nil {
		logger.Warn("send completion notification", logging.Error(notifyErr))
	}
	logger.Info("job completed",
		logging.Int("progress", completed.Progress),
		logging.String(logging.FieldStatus, string(completed.Status)),
	)
	return nil
}

func (w *Worker) loadAudio(ctx context.Context, job *ledger.Job, req *pipeline.Request) error {
	if job.SourceKey == "" {
		return errors.New("job has no uploaded audio")
	}
	rc, _, err := w.artifacts.OpenKey(ctx, job.SourceKey)
	if err != nil {
		return fmt.Errorf("open uploaded audio: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read uploaded audio: %w", err)
	}
	req.Audio = data
	return nil
}

func (w *Worker) writeExports(ctx context.Context, req *pipeline.Request) error {
	exports, err := w.engine.GenerateExports(ctx, req)
	if err != nil {
		return err
	}
	for _, export := range exports {
		if _, err := w.artifacts.Write(ctx, req.JobID, export.Format, export.Data); err != nil {
			return fmt.Errorf("store %s export: %w", export.Format, err)
		}
	}
	return nil
}

// keepLease renews the queue lease until the work context ends. Losing the
// lease cancels the work so the redelivered attempt owns the job alone.
func (w *Worker) keepLease(ctx context.Context, cancel context.CancelFunc, item *taskqueue.Item, done chan<- struct{}, logger *slog.Logger) {
	defer close(done)
	ticker := time.NewTicker(w.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.RenewLease(ctx, item.JobID, w.id); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("lease renewal failed, abandoning job", logging.Error(err))
				cancel()
				return
			}
		}
	}
}

func (w *Worker) ack(ctx context.Context, item *taskqueue.Item, logger *slog.Logger) {
	if err := w.queue.Ack(context.WithoutCancel(ctx), item.JobID, w.id); err != nil && !errors.Is(err, taskqueue.ErrLeaseLost) {
		logger.Warn("ack queue item", logging.Error(err))
	}
}

func (w *Worker) release(item *taskqueue.Item, logger *slog.Logger) {
	if err := w.queue.Release(context.Background(), item.JobID, w.id); err != nil && !errors.Is(err, taskqueue.ErrLeaseLost) {
		logger.Warn("release queue item", logging.Error(err))
	}
}
