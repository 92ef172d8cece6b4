// Package testsupport provides shared fixtures for package tests: temp-dir
// configs, registries, and synthetic deck archives.
package testsupport

import (
	"path/filepath"
	"testing"

	"deckforge/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.UploadDir = filepath.Join(base, "uploads")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Cache.SweepIntervalSeconds = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithWorkerEndpoints points all three worker services at the same base URL,
// usually an httptest server.
func WithWorkerEndpoints(baseURL string) ConfigOption {
	return func(cfg *config.Config) {
		for _, ep := range []*config.WorkerEndpoint{&cfg.Workers.ScriptGen, &cfg.Workers.Speech, &cfg.Workers.Render} {
			ep.BaseURL = baseURL
			ep.TimeoutSeconds = 5
		}
	}
}

// WithAPIToken enables bearer authentication on the test daemon.
func WithAPIToken(token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Paths.APIToken = token
	}
}
