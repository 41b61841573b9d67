// Package nlp provides the intent-classification layer for Kioku.
//
// The classifier sits between the raw chat message and the memory engine.
// Its sole responsibility is translation: decide whether a free-form
// sentence is a memory write ("remember my email: …"), a memory query
// ("what's John's email?"), a summarization request, or an ordinary chat
// turn. Classification never mutates state itself; it only proposes an
// intent for the engine to act on, and anything ambiguous falls back to
// ordinary chat — the safe default that touches nothing.
package nlp

import (
	"context"
	"errors"
)

// ErrMalformedOutput is returned by a Provider when the upstream model
// returns output that cannot be interpreted as a ClassifyResponse (JSON
// parse failure, schema violation). Callers should fall back to ordinary
// chat rather than surfacing the error to the user.
var ErrMalformedOutput = errors.New("nlp: malformed classification output")

// Intent describes what the model inferred from the user's message.
type Intent string

const (
	// IntentMemoryWrite means the user wants a fact saved.
	IntentMemoryWrite Intent = "memory_write"
	// IntentMemoryQuery means the user is asking for a saved fact.
	IntentMemoryQuery Intent = "memory_query"
	// IntentSummarize means the user wants recent history summarized.
	IntentSummarize Intent = "summarize"
	// IntentChat is an ordinary conversational turn, and the safe default
	// for anything the classifier is unsure about.
	IntentChat Intent = "chat"
)

// HistoryMessage is a prior turn handed to the classifier for context.
type HistoryMessage struct {
	// Author is the display name of whoever wrote the message.
	Author string
	// Role is "user" or "assistant".
	Role string
	// Content is the message text.
	Content string
}

// ClassifyRequest is the input to a single classification call.
type ClassifyRequest struct {
	// Message is the raw text sent by the user.
	Message string

	// RecentWindow contains the chat's recent messages, oldest first.
	// Classification is stateless; the window exists only so the model can
	// resolve references like "save that" or "what did she say".
	RecentWindow []HistoryMessage
}

// ClassifyResponse is the structured output produced by a Provider.
//
// Only the fields relevant to the detected intent are meaningful:
//   - IntentMemoryWrite → Key, Value
//   - IntentMemoryQuery → Query
//   - IntentSummarize   → MessageCount (0 means caller default)
//   - IntentChat        → none
type ClassifyResponse struct {
	// Intent is the high-level category of the user's message.
	Intent Intent `json:"intent"`

	// Key is the subject key to store a fact under (raw, un-normalized).
	Key string `json:"key,omitempty"`

	// Value is the fact text to store.
	Value string `json:"value,omitempty"`

	// Query is the lookup key or free-form question for a memory query.
	Query string `json:"query,omitempty"`

	// MessageCount is how many recent messages a summarization request
	// covers. Zero lets the engine apply its configured default.
	MessageCount int `json:"message_count,omitempty"`

	// Confidence is a 0–1 score indicating the model's certainty. Responses
	// below the classifier threshold are downgraded to IntentChat.
	Confidence float64 `json:"confidence,omitempty"`

	// Explanation is a short human-readable summary of the decision, kept
	// for debug logging only.
	Explanation string `json:"explanation,omitempty"`
}

// Provider classifies free-form chat messages into structured intents.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// When an implementation is unavailable (network error), callers degrade to
// the keyword-based Heuristic provider rather than dropping the message.
type Provider interface {
	// Classify analyses the user message and returns a structured intent.
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error)
}
