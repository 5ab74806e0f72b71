package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"drumscribe/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	cfg, resolvedPath, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolvedPath != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolvedPath)
	}
	if cfg.Paths.APIBind != "127.0.0.1:8643" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Upload.MaxSizeMiB != 50 {
		t.Fatalf("unexpected upload limit: %d", cfg.Upload.MaxSizeMiB)
	}
	if strings.Contains(cfg.Paths.DataDir, "~") {
		t.Fatalf("data dir not expanded: %q", cfg.Paths.DataDir)
	}
	if cfg.Queue.LeaseTTL != 120 || cfg.Queue.LeaseRenewInterval != 15 {
		t.Fatalf("unexpected lease defaults: %d/%d", cfg.Queue.LeaseTTL, cfg.Queue.LeaseRenewInterval)
	}
}

func TestLoadReadsFileAndFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
[paths]
api_bind = "0.0.0.0:9000"

[upload]
max_size_mib = 10

[queue]
workers = 4

[notifications]
ntfy_topic = "https://ntfy.sh/drums"
`)

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Paths.APIBind != "0.0.0.0:9000" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Upload.MaxSizeMiB != 10 {
		t.Fatalf("unexpected upload limit: %d", cfg.Upload.MaxSizeMiB)
	}
	if cfg.Queue.Workers != 4 {
		t.Fatalf("unexpected workers: %d", cfg.Queue.Workers)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.sh/drums" {
		t.Fatalf("unexpected topic: %q", cfg.Notifications.NtfyTopic)
	}
	// Unset sections keep their defaults.
	if cfg.Queue.LeaseTTL != 120 {
		t.Fatalf("unexpected lease ttl: %d", cfg.Queue.LeaseTTL)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeConfig(t, "[paths\napi_bind = ")
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadRejectsInvalidBindAddress(t *testing.T) {
	path := writeConfig(t, `
[paths]
api_bind = "not-a-bind-address"
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "api_bind") {
		t.Fatalf("expected api_bind validation error, got %v", err)
	}
}

func TestLoadRejectsLeaseTTLNotAboveRenewInterval(t *testing.T) {
	path := writeConfig(t, `
[queue]
lease_ttl = 10
lease_renew_interval = 10
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "lease_ttl") {
		t.Fatalf("expected lease_ttl validation error, got %v", err)
	}
}

func TestLoadRequiresRegionWithBucket(t *testing.T) {
	path := writeConfig(t, `
[storage]
s3_bucket = "drum-exports"
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "s3_region") {
		t.Fatalf("expected s3_region validation error, got %v", err)
	}
}

func TestLoadNormalizesAllowedFormats(t *testing.T) {
	path := writeConfig(t, `
[upload]
allowed_formats = [".WAV", "wav", "Mp3", ""]
`)
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []string{"wav", "mp3"}
	if len(cfg.Upload.AllowedFormats) != len(want) {
		t.Fatalf("unexpected formats: %v", cfg.Upload.AllowedFormats)
	}
	for i, format := range want {
		if cfg.Upload.AllowedFormats[i] != format {
			t.Fatalf("unexpected formats: %v", cfg.Upload.AllowedFormats)
		}
	}
}

func TestSigningSecretFromEnvironment(t *testing.T) {
	t.Setenv("DRUMSCRIBE_SIGNING_SECRET", "from-env")
	path := filepath.Join(t.TempDir(), "missing.toml")

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.SigningSecret != "from-env" {
		t.Fatalf("expected secret from environment, got %q", cfg.Storage.SigningSecret)
	}
}

func TestFormatAllowed(t *testing.T) {
	cfg := config.Default()
	cases := []struct {
		ext  string
		want bool
	}{
		{".wav", true},
		{".WAV", true},
		{"mp3", true},
		{".txt", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := cfg.FormatAllowed(tc.ext); got != tc.want {
			t.Errorf("FormatAllowed(%q) = %v, want %v", tc.ext, got, tc.want)
		}
	}
}

func TestMaxUploadBytes(t *testing.T) {
	cfg := config.Default()
	cfg.Upload.MaxSizeMiB = 2
	if got := cfg.MaxUploadBytes(); got != 2*1024*1024 {
		t.Fatalf("unexpected byte limit: %d", got)
	}
}

func TestExpandPathResolvesTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	got, err := config.ExpandPath("~/drumscribe")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if got != filepath.Join(home, "drumscribe") {
		t.Fatalf("unexpected expansion: %q", got)
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.ArtifactDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q, got %v/%v", dir, info, err)
		}
	}
}

func TestCreateSampleLoadsCleanly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	// Every sample line is a comment, so loading it yields the defaults.
	if cfg.Paths.APIBind != "127.0.0.1:8643" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
}
