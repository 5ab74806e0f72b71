package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"drumscribe/internal/artifacts"
	"drumscribe/internal/config"
	"drumscribe/internal/gateway"
	"drumscribe/internal/ledger"
	"drumscribe/internal/logging"
	"drumscribe/internal/notifications"
	"drumscribe/internal/pipeline"
	"drumscribe/internal/pubsub"
	"drumscribe/internal/taskqueue"
	"drumscribe/internal/worker"
)

// Daemon owns the background services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *ledger.Store
	queue     *taskqueue.Queue
	artifacts *artifacts.Store
	hub       *pubsub.Hub
	gateway   *gateway.Server
	engine    pipeline.Engine
	notifier  notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies. A nil engine falls
// back to the stub pipeline.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, engine pipeline.Engine) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if engine == nil {
		engine = &pipeline.Stub{}
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	hub := pubsub.NewHub(logger)
	store, err := ledger.Open(cfg, ledger.WithPublisher(hub))
	if err != nil {
		return nil, fmt.Errorf("open job ledger: %w", err)
	}
	queue, err := taskqueue.Open(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open task queue: %w", err)
	}

	local := artifacts.NewLocalBackend(cfg.Paths.ArtifactDir)
	var primary artifacts.Backend
	if cfg.S3Configured() {
		primary, err = artifacts.NewS3Backend(ctx, cfg)
		if err != nil {
			logger.Warn("s3 backend unavailable, serving from local storage only",
				logging.Error(err))
			primary = nil
		}
	}
	artifactStore, err := artifacts.Open(cfg, primary, local, logger)
	if err != nil {
		_ = store.Close()
		_ = queue.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "drumscribed.lock")
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		queue:     queue,
		artifacts: artifactStore,
		hub:       hub,
		gateway:   gateway.New(cfg, store, queue, artifactStore, hub, logger),
		engine:    engine,
		notifier:  notifications.NewService(cfg),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches workers, the artifact sweeper,
// and the HTTP gateway.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another drumscribe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	workers := d.cfg.Queue.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 1; i <= workers; i++ {
		id := fmt.Sprintf("worker-%d", i)
		w := worker.New(id, d.cfg, d.store, d.queue, d.artifacts, d.engine, d.notifier, d.logger)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := w.Run(runCtx); err != nil {
				d.logger.Error("worker stopped", logging.Error(err))
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.gateway.ListenAndServe(runCtx); err != nil {
			d.logger.Error("gateway stopped", logging.Error(err))
			cancel()
		}
	}()

	if d.cfg.Storage.RetentionDays > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.sweepLoop(runCtx)
		}()
	}

	d.running.Store(true)
	d.logger.Info("drumscribe daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("workers", workers),
	)
	return nil
}

// sweepLoop expires old exports on the configured interval.
func (d *Daemon) sweepLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.Storage.SweepInterval) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -d.cfg.Storage.RetentionDays)
			removed, err := d.artifacts.Sweep(ctx, cutoff)
			if err != nil {
				d.logger.Warn("artifact sweep failed", logging.Error(err))
				continue
			}
			if removed > 0 {
				d.logger.Info("expired artifacts removed", logging.Int64("count", removed))
			}
		}
	}
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("drumscribe daemon stopped")
}

// Close stops the daemon and closes its stores.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.artifacts != nil {
		errs = append(errs, d.artifacts.Close())
	}
	if d.queue != nil {
		errs = append(errs, d.queue.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}
