// Package daemon runs the deckforge background service: it owns the job
// registry, the pipeline orchestrator, the result cache, and the HTTP API,
// and enforces single-instance execution with a lock file.
package daemon
