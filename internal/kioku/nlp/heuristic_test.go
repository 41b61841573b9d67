package nlp_test

import (
	"context"
	"testing"

	"github.com/bdobrica/Kioku/internal/kioku/nlp"
)

// TestHeuristicClassify runs the keyword classifier over the phrasings it
// is expected to recognize.
func TestHeuristicClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		intent  nlp.Intent
		key     string
		value   string
		query   string
		count   int
	}{
		{
			name:    "remember with colon",
			message: "remember my email: john@example.com",
			intent:  nlp.IntentMemoryWrite,
			key:     "email",
			value:   "john@example.com",
		},
		{
			name:    "save with is",
			message: "save that the wifi password is hunter2",
			intent:  nlp.IntentMemoryWrite,
			key:     "the wifi password",
			value:   "hunter2",
		},
		{
			name:    "store with equals",
			message: "please store office door code = 4721",
			intent:  nlp.IntentMemoryWrite,
			key:     "office door code",
			value:   "4721",
		},
		{
			name:    "whats question",
			message: "what's the wifi password?",
			intent:  nlp.IntentMemoryQuery,
			query:   "wifi password",
		},
		{
			name:    "do you know",
			message: "do you know my email",
			intent:  nlp.IntentMemoryQuery,
			query:   "email",
		},
		{
			name:    "summarize with count",
			message: "summarize the last 10 messages",
			intent:  nlp.IntentSummarize,
			count:   10,
		},
		{
			name:    "recap without count",
			message: "give me a recap please",
			intent:  nlp.IntentSummarize,
			count:   0,
		},
		{
			name:    "plain chat",
			message: "good morning everyone",
			intent:  nlp.IntentChat,
		},
		{
			name:    "remember without value stays chat",
			message: "remember",
			intent:  nlp.IntentChat,
		},
	}

	h := nlp.NewHeuristic()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.Classify(context.Background(), nlp.ClassifyRequest{Message: tt.message})
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if resp.Intent != tt.intent {
				t.Fatalf("intent = %q, want %q (%s)", resp.Intent, tt.intent, resp.Explanation)
			}
			if tt.key != "" && resp.Key != tt.key {
				t.Errorf("key = %q, want %q", resp.Key, tt.key)
			}
			if tt.value != "" && resp.Value != tt.value {
				t.Errorf("value = %q, want %q", resp.Value, tt.value)
			}
			if tt.query != "" && resp.Query != tt.query {
				t.Errorf("query = %q, want %q", resp.Query, tt.query)
			}
			if tt.intent == nlp.IntentSummarize && resp.MessageCount != tt.count {
				t.Errorf("count = %d, want %d", resp.MessageCount, tt.count)
			}
		})
	}
}
