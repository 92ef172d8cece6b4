package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	UploadDir string `toml:"upload_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Pipeline contains orchestration tuning.
type Pipeline struct {
	// MaxConcurrentJobs bounds simultaneous orchestration goroutines; jobs
	// beyond the cap queue until a slot frees.
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"`
	// StageTimeoutSeconds is the fallback per-stage timeout when a pipeline
	// definition does not declare its own.
	StageTimeoutSeconds int `toml:"stage_timeout_seconds"`
	// BatchStaggerMillis delays each successive job launch within a batch.
	BatchStaggerMillis int `toml:"batch_stagger_millis"`
	// ResumeOnStart relaunches jobs left running by a previous process.
	ResumeOnStart bool `toml:"resume_on_start"`
}

// Cache configures the tiered result cache.
type Cache struct {
	// MaxEntries bounds the in-memory tier; the least recently used entry is
	// evicted when full.
	MaxEntries int `toml:"max_entries"`
	// DefaultTTLSeconds applies when a stage definition omits a TTL.
	DefaultTTLSeconds int `toml:"default_ttl_seconds"`
	// SweepIntervalSeconds controls the background expiry sweep cadence.
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	// DurableBackend selects the durable tier: "sqlite", "redis", or "" to
	// run memory-only.
	DurableBackend string `toml:"durable_backend"`
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"redis_password"`
	RedisDB        int    `toml:"redis_db"`
}

// WorkerEndpoint holds connection settings for one external stage worker.
type WorkerEndpoint struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workers configures the external collaborators invoked by pipeline stages.
type Workers struct {
	ScriptGen WorkerEndpoint `toml:"scriptgen"`
	Speech    WorkerEndpoint `toml:"speech"`
	Render    WorkerEndpoint `toml:"render"`
}

// Upload constrains accepted artifacts.
type Upload struct {
	MaxSizeMiB int `toml:"max_size_mib"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for deckforge.
//
// Configuration sections by subsystem:
//   - Paths: data/log/upload directories and API bind address
//   - Pipeline: orchestration concurrency and timeouts
//   - Cache: tiered result cache sizing, TTLs, and durable backend
//   - Workers: external content-generation, speech, and render services
//   - Upload: artifact acceptance limits
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Pipeline Pipeline `toml:"pipeline"`
	Cache    Cache    `toml:"cache"`
	Workers  Workers  `toml:"workers"`
	Upload   Upload   `toml:"upload"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/deckforge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a config file was found; when false, defaults are in effect.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) (string, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(expanded); err == nil {
		return "", fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return "", fmt.Errorf("write sample config: %w", err)
	}
	return expanded, nil
}

// EnsureDirectories creates the directories deckforge needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.UploadDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", trimmed, err)
	}
	return abs, nil
}
