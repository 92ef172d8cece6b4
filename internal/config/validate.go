package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.APIBind == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxConcurrentJobs <= 0 {
		return errors.New("pipeline.max_concurrent_jobs must be positive")
	}
	if c.Pipeline.StageTimeoutSeconds <= 0 {
		return errors.New("pipeline.stage_timeout_seconds must be positive")
	}
	if c.Pipeline.BatchStaggerMillis < 0 {
		return errors.New("pipeline.batch_stagger_millis must not be negative")
	}
	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.DurableBackend {
	case "", "sqlite":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redis_addr is required when cache.durable_backend is \"redis\"")
		}
	default:
		return fmt.Errorf("cache.durable_backend: unsupported value %q (expected \"sqlite\", \"redis\", or empty)", c.Cache.DurableBackend)
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxSizeMiB <= 0 {
		return errors.New("upload.max_size_mib must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
}
