package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers used to classify failures across stage and worker
// boundaries. Wrap tags errors with one of these so callers can distinguish
// "your input is bad" from "our service is degraded".
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrInfrastructure = errors.New("infrastructure error")
	ErrTimeout        = errors.New("timeout")
	ErrTransient      = errors.New("transient failure")
	ErrCache          = errors.New("cache error")
	ErrConflict       = errors.New("conflict")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind is a coarse error classification surfaced in status responses.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindInfrastructure Kind = "infrastructure"
	KindTimeout        Kind = "timeout"
	KindCache          Kind = "cache"
	KindConflict       Kind = "conflict"
	KindTransient      Kind = "transient"
)

// Classify maps an error to its Kind based on the sentinel marker it wraps.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInfrastructure):
		return KindInfrastructure
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCache):
		return KindCache
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindTransient
	}
}

// Message extracts the human-readable portion of a wrapped error, stripping
// the leading sentinel text when present.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, marker := range []error{ErrValidation, ErrNotFound, ErrInfrastructure, ErrTimeout, ErrTransient, ErrCache, ErrConflict} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
