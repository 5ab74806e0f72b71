package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const sampleConfig = `# drumscribe configuration

[paths]
# data_dir = "~/.local/share/drumscribe/data"
# artifact_dir = "~/.local/share/drumscribe/artifacts"
# log_dir = "~/.local/share/drumscribe/logs"
# api_bind = "127.0.0.1:8643"

[upload]
# max_size_mib = 50
# allowed_formats = ["wav", "mp3", "flac", "ogg", "m4a"]

[queue]
# workers = 1
# poll_interval = 2
# error_retry_interval = 5
# lease_ttl = 120
# lease_renew_interval = 15

[storage]
# Exports are kept on local disk unless an S3 bucket is configured.
# s3_bucket = ""
# s3_region = ""
# s3_endpoint = ""
# Set DRUMSCRIBE_SIGNING_SECRET instead of committing the secret here.
# signing_secret = ""
# url_ttl_seconds = 3600
# retention_days = 0
# public_base_url = ""

[notifications]
# ntfy_topic = "https://ntfy.sh/your-topic"
# completion = true
# errors = true

[logging]
# format = "console"
# level = "info"
`

// DefaultConfigPath returns the default location for the config file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/drumscribe/config.toml")
}

// ExpandPath resolves a leading tilde to the user's home directory and
// cleans the result.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
