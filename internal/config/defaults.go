package config

const (
	defaultDataDir              = "~/.local/share/deckforge/data"
	defaultLogDir               = "~/.local/share/deckforge/logs"
	defaultUploadDir            = "~/.local/share/deckforge/uploads"
	defaultAPIBind              = "127.0.0.1:7612"
	defaultMaxConcurrentJobs    = 3
	defaultStageTimeoutSeconds  = 600
	defaultBatchStaggerMillis   = 250
	defaultCacheMaxEntries      = 256
	defaultCacheTTLSeconds      = 86400
	defaultCacheSweepSeconds    = 60
	defaultCacheDurableBackend  = "sqlite"
	defaultWorkerTimeoutSeconds = 120
	defaultUploadMaxSizeMiB     = 100
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			UploadDir: defaultUploadDir,
			APIBind:   defaultAPIBind,
		},
		Pipeline: Pipeline{
			MaxConcurrentJobs:   defaultMaxConcurrentJobs,
			StageTimeoutSeconds: defaultStageTimeoutSeconds,
			BatchStaggerMillis:  defaultBatchStaggerMillis,
			ResumeOnStart:       true,
		},
		Cache: Cache{
			MaxEntries:           defaultCacheMaxEntries,
			DefaultTTLSeconds:    defaultCacheTTLSeconds,
			SweepIntervalSeconds: defaultCacheSweepSeconds,
			DurableBackend:       defaultCacheDurableBackend,
		},
		Workers: Workers{
			ScriptGen: WorkerEndpoint{TimeoutSeconds: defaultWorkerTimeoutSeconds},
			Speech:    WorkerEndpoint{TimeoutSeconds: defaultWorkerTimeoutSeconds},
			Render:    WorkerEndpoint{TimeoutSeconds: defaultWorkerTimeoutSeconds},
		},
		Upload: Upload{
			MaxSizeMiB: defaultUploadMaxSizeMiB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
