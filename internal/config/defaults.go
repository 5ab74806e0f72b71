package config

const (
	defaultDataDir            = "~/.local/share/drumscribe/data"
	defaultArtifactDir        = "~/.local/share/drumscribe/artifacts"
	defaultLogDir             = "~/.local/share/drumscribe/logs"
	defaultAPIBind            = "127.0.0.1:8643"
	defaultMaxUploadMiB       = 50
	defaultQueueWorkers       = 1
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 5
	defaultLeaseTTL           = 120
	defaultLeaseRenewInterval = 15
	defaultURLTTLSeconds      = 3600
	defaultSweepInterval      = 3600
	defaultNtfyRequestTimeout = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

var defaultAllowedFormats = []string{"wav", "mp3", "flac", "ogg", "m4a"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Upload: Upload{
			MaxSizeMiB:     defaultMaxUploadMiB,
			AllowedFormats: append([]string(nil), defaultAllowedFormats...),
		},
		Queue: Queue{
			Workers:            defaultQueueWorkers,
			PollInterval:       defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			LeaseTTL:           defaultLeaseTTL,
			LeaseRenewInterval: defaultLeaseRenewInterval,
		},
		Storage: Storage{
			URLTTLSeconds: defaultURLTTLSeconds,
			SweepInterval: defaultSweepInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			Completion:     true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
