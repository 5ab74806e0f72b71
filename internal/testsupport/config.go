package testsupport

import (
	"path/filepath"
	"testing"

	"drumscribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Storage.SigningSecret = "test-secret"
	cfg.Queue.PollInterval = 1
	cfg.Queue.LeaseRenewInterval = 1
	cfg.Queue.LeaseTTL = 5

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithLeaseTTL overrides the queue lease TTL in seconds.
func WithLeaseTTL(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.LeaseTTL = seconds
	}
}

// WithAllowedFormats overrides the accepted upload extensions.
func WithAllowedFormats(formats ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Upload.AllowedFormats = formats
	}
}

// WithMaxUploadMiB overrides the upload size ceiling.
func WithMaxUploadMiB(mib int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Upload.MaxSizeMiB = mib
	}
}
