package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Key derives the deterministic cache key for an operation kind and its
// parameters. Map keys are sorted, strings are trimmed and lowercased, and
// the canonical form is hashed, so equivalent requests produce identical
// keys. The kind survives as a plaintext prefix to support pattern-based
// invalidation per pipeline.
func Key(kind string, params map[string]any) string {
	canonical := canonicalize(params)
	encoded, err := json.Marshal(canonical)
	if err != nil {
		// Canonical forms only contain JSON-encodable values; a failure here
		// means a caller passed something exotic. Fall back to the string
		// form so the key is still deterministic.
		encoded = []byte(fmt.Sprintf("%v", canonical))
	}
	sum := sha256.Sum256(encoded)
	return normalizeKind(kind) + ":" + hex.EncodeToString(sum[:])
}

// KindPrefix returns the key prefix shared by every entry of one operation
// kind, suitable for building invalidation patterns.
func KindPrefix(kind string) string {
	return normalizeKind(kind) + ":"
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

// canonicalize rewrites a value into a deterministic JSON-encodable form:
// maps become sorted key/value pair lists, strings are trimmed and
// lowercased, and slices are canonicalized element-wise.
func canonicalize(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([][2]any, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, [2]any{strings.TrimSpace(k), canonicalize(v[k])})
		}
		return pairs
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = canonicalize(elem)
		}
		return out
	default:
		return v
	}
}
