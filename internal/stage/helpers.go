package stage

import (
	"fmt"

	"deckforge/internal/job"
	"deckforge/internal/services"
)

// RequireString extracts a non-empty string field from an upstream payload.
// On failure it returns a services.ErrValidation suitable for worker Invoke
// methods.
func RequireString(payload job.Payload, stageName, field string) (string, error) {
	raw, ok := payload[field]
	if !ok {
		return "", services.Wrap(
			services.ErrValidation, stageName, "read upstream output",
			fmt.Sprintf("missing %q in %s output; rerun the stage", field, stageName), nil)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", services.Wrap(
			services.ErrValidation, stageName, "read upstream output",
			fmt.Sprintf("field %q in %s output is empty or not a string", field, stageName), nil)
	}
	return value, nil
}

// RequireNumber extracts a numeric field from an upstream payload. JSON
// round-tripping stores numbers as float64.
func RequireNumber(payload job.Payload, stageName, field string) (float64, error) {
	raw, ok := payload[field]
	if !ok {
		return 0, services.Wrap(
			services.ErrValidation, stageName, "read upstream output",
			fmt.Sprintf("missing %q in %s output; rerun the stage", field, stageName), nil)
	}
	switch value := raw.(type) {
	case float64:
		return value, nil
	case int:
		return float64(value), nil
	case int64:
		return float64(value), nil
	default:
		return 0, services.Wrap(
			services.ErrValidation, stageName, "read upstream output",
			fmt.Sprintf("field %q in %s output is not numeric", field, stageName), nil)
	}
}
