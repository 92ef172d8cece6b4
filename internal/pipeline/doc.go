// Package pipeline sequences job stages through registered workers. It owns
// the built-in pipeline definitions, the per-stage executor with its result
// cache, and the orchestrator that drives jobs from creation to a terminal
// state.
package pipeline
