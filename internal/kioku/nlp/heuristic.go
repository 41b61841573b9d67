package nlp

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Heuristic is a keyword-based Provider used when no model is configured
// or as a fallback when the model provider fails. It recognizes the common
// phrasings for memory writes, memory queries, and summarization requests;
// everything else is ordinary chat. It is deliberately conservative: a
// sentence it cannot parse cleanly is chat, never a guessed mutation.
type Heuristic struct{}

// NewHeuristic returns the keyword classifier.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

var (
	// "remember my email: john@example.com", "save my phone number 555-0199"
	writeColonRe = regexp.MustCompile(`(?i)^(?:please\s+)?(?:remember|save|store)\s+(?:that\s+)?(?:my\s+)?(.+?)\s*(?::|=|\bis\b)\s*(.+)$`)

	// "what's john's email?", "what is the wifi password", "do you know my address"
	queryRe = regexp.MustCompile(`(?i)^(?:what(?:'s| is| are)?|whats|do you know|recall|tell me)\s+(?:the\s+|my\s+)?(.+?)\??$`)

	// "summarize the last 10 messages", "give me a recap"
	summarizeRe = regexp.MustCompile(`(?i)\b(summar|recap)`)
	countRe     = regexp.MustCompile(`\b(\d{1,4})\b`)
)

// Classify applies the keyword rules. It never returns an error.
func (h *Heuristic) Classify(_ context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	msg := strings.TrimSpace(req.Message)

	if summarizeRe.MatchString(msg) {
		count := 0
		if m := countRe.FindStringSubmatch(msg); m != nil {
			count, _ = strconv.Atoi(m[1])
		}
		return &ClassifyResponse{
			Intent:       IntentSummarize,
			MessageCount: count,
			Confidence:   0.9,
			Explanation:  "keyword: summarize",
		}, nil
	}

	if m := writeColonRe.FindStringSubmatch(msg); m != nil {
		key := strings.TrimSpace(m[1])
		value := strings.TrimSpace(m[2])
		if key != "" && value != "" {
			return &ClassifyResponse{
				Intent:      IntentMemoryWrite,
				Key:         key,
				Value:       value,
				Confidence:  0.8,
				Explanation: "keyword: remember/save",
			}, nil
		}
	}

	if m := queryRe.FindStringSubmatch(msg); m != nil {
		query := strings.TrimSpace(m[1])
		if query != "" {
			return &ClassifyResponse{
				Intent:      IntentMemoryQuery,
				Query:       query,
				Confidence:  0.7,
				Explanation: "keyword: lookup question",
			}, nil
		}
	}

	return &ClassifyResponse{
		Intent:      IntentChat,
		Confidence:  1.0,
		Explanation: "no keyword matched",
	}, nil
}
