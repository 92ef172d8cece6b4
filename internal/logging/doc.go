// Package logging wraps log/slog with deckforge conventions: shared attribute
// helpers, standardized field names, and context-derived fields so every log
// line produced while processing a job carries its job, stage, and batch
// identifiers.
package logging
