package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCache()
	c.normalizeWorkers()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeCache() {
	c.Cache.DurableBackend = strings.ToLower(strings.TrimSpace(c.Cache.DurableBackend))
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = defaultCacheMaxEntries
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		c.Cache.DefaultTTLSeconds = defaultCacheTTLSeconds
	}
	if c.Cache.SweepIntervalSeconds <= 0 {
		c.Cache.SweepIntervalSeconds = defaultCacheSweepSeconds
	}
}

func (c *Config) normalizeWorkers() {
	for _, ep := range []*WorkerEndpoint{&c.Workers.ScriptGen, &c.Workers.Speech, &c.Workers.Render} {
		ep.BaseURL = strings.TrimRight(strings.TrimSpace(ep.BaseURL), "/")
		if ep.TimeoutSeconds <= 0 {
			ep.TimeoutSeconds = defaultWorkerTimeoutSeconds
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
