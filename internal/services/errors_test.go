package services_test

import (
	"errors"
	"testing"

	"deckforge/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("connection refused")
	err := services.Wrap(services.ErrInfrastructure, "render", "invoke worker", "render service unreachable", base)
	if !errors.Is(err, services.ErrInfrastructure) {
		t.Fatalf("expected infrastructure marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if got := services.Classify(err); got != services.KindInfrastructure {
		t.Fatalf("Classify = %q, want %q", got, services.KindInfrastructure)
	}
}

func TestWrapNilMarkerDefaultsTransient(t *testing.T) {
	err := services.Wrap(nil, "script", "invoke worker", "unexpected failure", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestClassifyUnmarkedError(t *testing.T) {
	if got := services.Classify(errors.New("boom")); got != services.KindTransient {
		t.Fatalf("Classify = %q, want %q", got, services.KindTransient)
	}
}

func TestMessageStripsMarkerPrefix(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "ingest", "inspect artifact", "deck has no slides", nil)
	want := "ingest: inspect artifact: deck has no slides"
	if got := services.Message(err); got != want {
		t.Fatalf("Message = %q, want %q", got, want)
	}
}
