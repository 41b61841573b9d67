package persona_test

import (
	"testing"

	"github.com/bdobrica/Kioku/internal/kioku/persona"
	"github.com/bdobrica/Kioku/internal/kioku/settings"
)

// TestLoadEmbeddedPresets verifies the embedded catalogue parses and
// covers every tone the settings registry accepts.
func TestLoadEmbeddedPresets(t *testing.T) {
	cat, err := persona.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for tone := range settings.Tones {
		if text := cat.Get(tone); text == "" {
			t.Errorf("tone %q has no persona text", tone)
		}
	}
}

// TestGetUnknownToneFallsBack verifies an unrecognized tone yields the
// friendly persona instead of an empty system prompt.
func TestGetUnknownToneFallsBack(t *testing.T) {
	cat, err := persona.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := cat.Get("nonexistent")
	want := cat.Get("friendly")
	if got != want {
		t.Errorf("unknown tone: got %q, want the friendly persona", got)
	}
	if got == "" {
		t.Error("fallback persona is empty")
	}
}

// TestTonesSorted verifies the tone listing is stable.
func TestTonesSorted(t *testing.T) {
	cat, err := persona.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tones := cat.Tones()
	if len(tones) == 0 {
		t.Fatal("no tones loaded")
	}
	for i := 1; i < len(tones); i++ {
		if tones[i-1] >= tones[i] {
			t.Fatalf("tones not sorted: %v", tones)
		}
	}
}
