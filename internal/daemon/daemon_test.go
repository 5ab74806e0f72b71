package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"drumscribe/internal/daemon"
	"drumscribe/internal/logging"
	"drumscribe/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	d, err := daemon.New(ctx, cfg, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.DataDir, "drumscribed.lock")); err != nil {
		t.Fatalf("expected lock file: %v", err)
	}

	d.Stop()
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	first, err := daemon.New(ctx, cfg, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer first.Close()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	second, err := daemon.New(ctx, cfg, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer second.Close()
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second instance to be refused")
	}
}

func TestDaemonRequiresConfigAndLogger(t *testing.T) {
	if _, err := daemon.New(context.Background(), nil, logging.NewNop(), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := daemon.New(context.Background(), testsupport.NewConfig(t), nil, nil); err == nil {
		t.Fatal("expected error for nil logger")
	}
}
