package testsupport

import (
	"testing"

	"drumscribe/internal/artifacts"
	"drumscribe/internal/config"
	"drumscribe/internal/ledger"
	"drumscribe/internal/logging"
	"drumscribe/internal/taskqueue"
)

// MustOpenLedger opens a job ledger for the test config and closes it when
// the test finishes.
func MustOpenLedger(t testing.TB, cfg *config.Config, opts ...ledger.Option) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// MustOpenQueue opens a task queue for the test config.
func MustOpenQueue(t testing.TB, cfg *config.Config) *taskqueue.Queue {
	t.Helper()
	queue, err := taskqueue.Open(cfg)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = queue.Close() })
	return queue
}

// MustOpenArtifacts opens an artifact store backed by local disk only.
func MustOpenArtifacts(t testing.TB, cfg *config.Config) *artifacts.Store {
	t.Helper()
	local := artifacts.NewLocalBackend(cfg.Paths.ArtifactDir)
	store, err := artifacts.Open(cfg, nil, local, logging.NewNop())
	if err != nil {
		t.Fatalf("open artifact store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
