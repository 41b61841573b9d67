package engine

import (
	"sort"
	"strings"
	"unicode"

	"github.com/bdobrica/Kioku/internal/kioku/ledger"
	"github.com/bdobrica/Kioku/internal/kioku/settings"
)

// maxFactsInContext caps how many facts a payload carries when no stored
// key overlaps the current message and the whole set is included instead.
const maxFactsInContext = 32

// ContextPayload is the bounded input handed to the completion provider.
// It is ephemeral: built fresh for every request and never cached, because
// settings or history may change between calls.
type ContextPayload struct {
	// ChatID identifies the chat partition this payload was built for.
	ChatID string

	// SystemPersona is the persona text derived from the chat's tone.
	SystemPersona string

	// RecentMessages is the chat's recent window in ascending chronological
	// order, never longer than the chat's context_window_size.
	RecentMessages []ledger.Message

	// RelevantFacts maps normalized fact keys to values for facts judged
	// relevant to the current message.
	RelevantFacts map[string]string

	// AnswerHint carries engine guidance for this specific turn — a
	// just-saved-fact acknowledgement, a failed-recall note, or a
	// summarization instruction. Empty for ordinary chat.
	AnswerHint string

	// Temperature and ModelName come from the chat's settings.
	Temperature float64
	ModelName   string
}

// BuildPayload assembles the completion payload from the chat's current
// state. It is a pure function: deterministic for identical inputs, with
// no side effects and no hidden randomness.
//
// The recent window is bounded by set.ContextWindowSize with FIFO
// eviction — when the raw window is larger, the oldest messages are
// dropped first, never the most recent. Facts are filtered to those whose
// key tokens overlap the current message; when nothing overlaps, the full
// set is included up to a fixed cap so short acknowledgements ("thanks!")
// still see the chat's memory.
func BuildPayload(set *settings.Settings, personaText string, window []ledger.Message, allFacts map[string]string, currentMsg string) ContextPayload {
	bounded := window
	if n := set.ContextWindowSize; len(bounded) > n {
		bounded = bounded[len(bounded)-n:]
	}

	return ContextPayload{
		ChatID:         set.ChatID,
		SystemPersona:  personaText,
		RecentMessages: bounded,
		RelevantFacts:  relevantFacts(allFacts, currentMsg),
		Temperature:    set.Temperature,
		ModelName:      set.ModelName,
	}
}

// relevantFacts selects the facts whose keys share a token with the
// current message. An empty selection falls back to all facts, capped at
// maxFactsInContext in sorted-key order so the result stays deterministic.
func relevantFacts(all map[string]string, currentMsg string) map[string]string {
	if len(all) == 0 {
		return map[string]string{}
	}

	msgTokens := tokenize(currentMsg)
	selected := make(map[string]string)
	for key, value := range all {
		for tok := range tokenize(key) {
			if _, ok := msgTokens[tok]; ok {
				selected[key] = value
				break
			}
		}
	}
	if len(selected) > 0 {
		return selected
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxFactsInContext {
		keys = keys[:maxFactsInContext]
	}

	capped := make(map[string]string, len(keys))
	for _, k := range keys {
		capped[k] = all[k]
	}
	return capped
}

// tokenize splits a string into a lowercase token set on non-alphanumeric
// boundaries.
func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}
