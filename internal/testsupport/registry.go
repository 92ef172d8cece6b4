package testsupport

import (
	"testing"

	"deckforge/internal/config"
	"deckforge/internal/job"
)

// MustOpenRegistry opens a job.Registry for tests and registers cleanup.
func MustOpenRegistry(t testing.TB, cfg *config.Config, templates map[string][]job.StageTemplate) *job.Registry {
	t.Helper()

	registry, err := job.Open(cfg, templates)
	if err != nil {
		t.Fatalf("job.Open: %v", err)
	}
	t.Cleanup(func() {
		registry.Close()
	})
	return registry
}
