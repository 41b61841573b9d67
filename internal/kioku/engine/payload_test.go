package engine_test

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/bdobrica/Kioku/internal/kioku/engine"
	"github.com/bdobrica/Kioku/internal/kioku/ledger"
	"github.com/bdobrica/Kioku/internal/kioku/settings"
)

func testSettings(windowSize int) *settings.Settings {
	return &settings.Settings{
		ChatID:            "room",
		Tone:              "friendly",
		Temperature:       0.7,
		ModelName:         "gemini-2.5-flash",
		ContextWindowSize: windowSize,
	}
}

func messages(n int) []ledger.Message {
	msgs := make([]ledger.Message, n)
	for i := range msgs {
		msgs[i] = ledger.Message{
			ChatID:     "room",
			SequenceNo: int64(i + 1),
			AuthorName: "Alice",
			Role:       ledger.RoleUser,
			Body:       fmt.Sprintf("message %d", i+1),
		}
	}
	return msgs
}

// TestBuildPayloadFIFOEviction verifies the oldest messages fall out first
// when the window exceeds the configured size.
func TestBuildPayloadFIFOEviction(t *testing.T) {
	payload := engine.BuildPayload(testSettings(7), "persona", messages(50), nil, "hi")

	if len(payload.RecentMessages) != 7 {
		t.Fatalf("window length = %d, want 7", len(payload.RecentMessages))
	}
	if payload.RecentMessages[0].SequenceNo != 44 {
		t.Errorf("oldest kept sequence = %d, want 44", payload.RecentMessages[0].SequenceNo)
	}
	if payload.RecentMessages[6].SequenceNo != 50 {
		t.Errorf("newest kept sequence = %d, want 50", payload.RecentMessages[6].SequenceNo)
	}
}

// TestBuildPayloadShortWindow verifies a window smaller than the limit is
// passed through whole.
func TestBuildPayloadShortWindow(t *testing.T) {
	payload := engine.BuildPayload(testSettings(7), "persona", messages(3), nil, "hi")
	if len(payload.RecentMessages) != 3 {
		t.Errorf("window length = %d, want 3", len(payload.RecentMessages))
	}
}

// TestBuildPayloadDeterministic verifies identical inputs produce
// identical payloads.
func TestBuildPayloadDeterministic(t *testing.T) {
	set := testSettings(5)
	window := messages(10)
	facts := map[string]string{"cat name": "Momo", "dog name": "Rex", "wifi password": "hunter2"}

	a := engine.BuildPayload(set, "persona", window, facts, "what about the cat")
	b := engine.BuildPayload(set, "persona", window, facts, "what about the cat")
	if !reflect.DeepEqual(a, b) {
		t.Errorf("payloads differ for identical inputs:\n%+v\n%+v", a, b)
	}
}

// TestBuildPayloadRelevantFacts verifies token-overlap fact selection.
func TestBuildPayloadRelevantFacts(t *testing.T) {
	facts := map[string]string{
		"cat name":      "Momo",
		"wifi password": "hunter2",
	}

	payload := engine.BuildPayload(testSettings(7), "persona", nil, facts, "is the cat okay?")
	if len(payload.RelevantFacts) != 1 {
		t.Fatalf("relevant facts = %v, want only the cat fact", payload.RelevantFacts)
	}
	if payload.RelevantFacts["cat name"] != "Momo" {
		t.Errorf("cat fact missing: %v", payload.RelevantFacts)
	}
}

// TestBuildPayloadFactFallback verifies all facts ride along when nothing
// overlaps the current message.
func TestBuildPayloadFactFallback(t *testing.T) {
	facts := map[string]string{
		"cat name":      "Momo",
		"wifi password": "hunter2",
	}

	payload := engine.BuildPayload(testSettings(7), "persona", nil, facts, "thanks!")
	if len(payload.RelevantFacts) != 2 {
		t.Errorf("fallback facts = %v, want all facts", payload.RelevantFacts)
	}
}

// TestBuildPayloadCarriesSettings verifies temperature, model, and persona
// flow through unchanged.
func TestBuildPayloadCarriesSettings(t *testing.T) {
	set := testSettings(7)
	set.Temperature = 1.3
	set.ModelName = "gemini-2.5-pro"

	payload := engine.BuildPayload(set, "be serious", nil, nil, "hi")
	if payload.Temperature != 1.3 {
		t.Errorf("temperature = %v, want 1.3", payload.Temperature)
	}
	if payload.ModelName != "gemini-2.5-pro" {
		t.Errorf("model = %q", payload.ModelName)
	}
	if payload.SystemPersona != "be serious" {
		t.Errorf("persona = %q", payload.SystemPersona)
	}
	if payload.ChatID != "room" {
		t.Errorf("chat id = %q", payload.ChatID)
	}
}
