package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		problems = append(problems, "paths.artifact_dir must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		problems = append(problems, fmt.Sprintf("paths.api_bind %q is not a host:port address", c.Paths.APIBind))
	}
	if len(c.Upload.AllowedFormats) == 0 {
		problems = append(problems, "upload.allowed_formats must not be empty")
	}
	if c.Queue.LeaseTTL <= c.Queue.LeaseRenewInterval {
		problems = append(problems, "queue.lease_ttl must be larger than queue.lease_renew_interval")
	}
	if c.S3Configured() && c.Storage.S3Region == "" {
		problems = append(problems, "storage.s3_region is required when storage.s3_bucket is set")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}
