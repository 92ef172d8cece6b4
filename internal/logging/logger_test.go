package logging_test

import (
	"context"
	"testing"

	"deckforge/internal/logging"
	"deckforge/internal/services"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewDefaultsToConsole(t *testing.T) {
	logger, err := logging.New(logging.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger")
	}
}

func TestContextFields(t *testing.T) {
	ctx := services.WithJobID(context.Background(), 42)
	ctx = services.WithStage(ctx, "render")
	ctx = services.WithBatchID(ctx, "batch-1")

	fields := logging.ContextFields(ctx)
	keys := make(map[string]bool, len(fields))
	for _, f := range fields {
		keys[f.Key] = true
	}
	for _, want := range []string{logging.FieldJobID, logging.FieldStage, logging.FieldBatchID} {
		if !keys[want] {
			t.Fatalf("missing context field %q in %v", want, keys)
		}
	}
}

func TestWithContextNilLogger(t *testing.T) {
	logger := logging.WithContext(context.Background(), nil)
	if logger == nil {
		t.Fatal("expected fallback logger")
	}
	logger.Info("noop")
}
