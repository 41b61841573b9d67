package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Kioku/common/trace"
	"github.com/bdobrica/Kioku/internal/kioku/ledger"
	"github.com/bdobrica/Kioku/internal/kioku/nlp"
	"github.com/bdobrica/Kioku/internal/kioku/settings"
)

// summarization deliberately bypasses the context window: it reads the
// requested span straight from the ledger and, when the span exceeds the
// provider's comfortable input size, splits it into chunks, summarizes
// each, and reduces the partial summaries into one.

// messageTokenOverhead pads the per-message estimate for role and author
// framing added when the transcript is rendered into a prompt.
const messageTokenOverhead = 8

func (e *Engine) handleSummarize(ctx context.Context, in Inbound, set *settings.Settings, intent *nlp.ClassifyResponse) (string, error) {
	count := intent.MessageCount
	if count <= 0 {
		count = e.cfg.SummarizeDefaultCount
	}

	latest, err := e.ledger.LatestSequence(ctx, in.ChatID)
	if err != nil {
		return "", err
	}

	since := latest - int64(count) - 1
	if since < 0 {
		since = 0
	}
	history, err := e.ledger.FullHistorySince(ctx, in.ChatID, since)
	if err != nil {
		return "", err
	}
	// The summarize request itself is the newest ledger row; it is not
	// part of the span being summarized.
	if n := len(history); n > 0 && history[n-1].SequenceNo == latest {
		history = history[:n-1]
	}

	if len(history) == 0 {
		return "There is nothing here to summarize yet.", nil
	}

	chunks := chunkByTokens(history, e.cfg.SummarizeChunkTokens)

	e.logger.Debug("engine: summarizing span",
		"trace_id", trace.FromContext(ctx),
		"chat_id", in.ChatID,
		"messages", len(history),
		"chunks", len(chunks),
	)

	partials := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		payload := ContextPayload{
			ChatID:         in.ChatID,
			SystemPersona:  e.personas.Get(set.Tone),
			RecentMessages: chunk,
			AnswerHint:     "Summarize the conversation above: the key points, decisions, and who said what. Be concise.",
			Temperature:    set.Temperature,
			ModelName:      set.ModelName,
		}
		part, err := e.complete(ctx, payload)
		if err != nil {
			return "", err
		}
		partials = append(partials, part)
	}

	if len(partials) == 1 {
		return partials[0], nil
	}
	return e.reduceSummaries(ctx, in.ChatID, set, partials)
}

// reduceSummaries folds partial chunk summaries into a single summary of
// the whole span.
func (e *Engine) reduceSummaries(ctx context.Context, chatID string, set *settings.Settings, partials []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("These are partial summaries of consecutive parts of one conversation, in order:\n")
	for i, part := range partials {
		fmt.Fprintf(&sb, "\nPart %d:\n%s\n", i+1, part)
	}
	sb.WriteString("\nMerge them into one coherent summary of the whole conversation. Be concise.")

	payload := ContextPayload{
		ChatID:        chatID,
		SystemPersona: e.personas.Get(set.Tone),
		AnswerHint:    sb.String(),
		Temperature:   set.Temperature,
		ModelName:     set.ModelName,
	}
	return e.complete(ctx, payload)
}

// chunkByTokens splits messages into consecutive runs whose estimated
// token counts stay within budget. A single oversized message still forms
// its own chunk; order is preserved and no message is dropped.
func chunkByTokens(msgs []ledger.Message, budget int) [][]ledger.Message {
	if len(msgs) == 0 {
		return nil
	}

	var chunks [][]ledger.Message
	var current []ledger.Message
	used := 0
	for _, m := range msgs {
		cost := estimateTokens(m.Body)
		if len(current) > 0 && used+cost > budget {
			chunks = append(chunks, current)
			current = nil
			used = 0
		}
		current = append(current, m)
		used += cost
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// estimateTokens approximates the token cost of a message body at roughly
// four characters per token, plus framing overhead.
func estimateTokens(body string) int {
	return len(body)/4 + messageTokenOverhead
}
