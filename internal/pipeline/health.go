package pipeline

import (
	"context"
	"sort"

	"deckforge/internal/stage"
)

// WorkerHealth checks every registered worker and returns the results sorted
// by stage name.
func (e *Executor) WorkerHealth(ctx context.Context) []stage.Health {
	names := make([]string, 0, len(e.workers))
	for name := range e.workers {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]stage.Health, 0, len(names))
	for _, name := range names {
		results = append(results, e.workers[name].HealthCheck(ctx))
	}
	return results
}
