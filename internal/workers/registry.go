package workers

import (
	"fmt"

	"deckforge/internal/config"
	"deckforge/internal/stage"
)

// serviceStages maps each configured worker service to the pipeline stages
// it executes.
var serviceStages = map[string][]string{
	"scriptgen": {"script", "storyboard", "probe", "evaluate"},
	"speech":    {"narration", "transcribe", "captions"},
	"render":    {"render"},
}

// FromConfig builds the stage-to-worker registry from the configured
// endpoints.
func FromConfig(cfg *config.Config, opts ...Option) (map[string]stage.Worker, error) {
	endpoints := map[string]config.WorkerEndpoint{
		"scriptgen": cfg.Workers.ScriptGen,
		"speech":    cfg.Workers.Speech,
		"render":    cfg.Workers.Render,
	}

	registry := make(map[string]stage.Worker)
	for service, endpoint := range endpoints {
		client, err := NewClient(service, endpoint, opts...)
		if err != nil {
			return nil, fmt.Errorf("configure %s worker: %w", service, err)
		}
		for _, stageName := range serviceStages[service] {
			registry[stageName] = client
		}
	}
	return registry, nil
}
