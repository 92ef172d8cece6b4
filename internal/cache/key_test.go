package cache

import (
	"strings"
	"testing"
)

func TestKeyDeterministic(t *testing.T) {
	first := Key("slidedeck", map[string]any{
		"stage":  "script",
		"source": "deck.pptx",
		"slides": []any{"intro", "body"},
	})
	second := Key("slidedeck", map[string]any{
		"slides": []any{"intro", "body"},
		"source": "deck.pptx",
		"stage":  "script",
	})
	if first != second {
		t.Fatalf("key order sensitivity: %q != %q", first, second)
	}
}

func TestKeyNormalizesStrings(t *testing.T) {
	first := Key("SlideDeck", map[string]any{"stage": "  Script "})
	second := Key("slidedeck", map[string]any{"stage": "script"})
	if first != second {
		t.Fatalf("normalization mismatch: %q != %q", first, second)
	}
}

func TestKeyDistinguishesParams(t *testing.T) {
	first := Key("slidedeck", map[string]any{"stage": "script"})
	second := Key("slidedeck", map[string]any{"stage": "narration"})
	if first == second {
		t.Fatal("distinct params produced identical keys")
	}
}

func TestKeyKindPrefix(t *testing.T) {
	key := Key("captions", map[string]any{"stage": "transcribe"})
	if !strings.HasPrefix(key, "captions:") {
		t.Fatalf("key missing kind prefix: %q", key)
	}
	if KindPrefix("Captions") != "captions:" {
		t.Fatalf("unexpected kind prefix %q", KindPrefix("Captions"))
	}
}
