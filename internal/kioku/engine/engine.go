// Package engine implements the conversation memory and context engine:
// the component that decides, for every incoming message, what persisted
// state to read, how to assemble a bounded completion payload, how to
// classify and apply memory mutations, and how to keep all of it
// consistent under concurrent traffic from many chats.
//
// All state touching a single chat is serialized through that chat's lock
// (see ChatLocks); distinct chats proceed concurrently. The lock is held
// across the external completion call so that the assistant's reply lands
// in the ledger before any later message for the same chat is processed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/Kioku/common/trace"
	"github.com/bdobrica/Kioku/internal/kioku/facts"
	"github.com/bdobrica/Kioku/internal/kioku/ledger"
	"github.com/bdobrica/Kioku/internal/kioku/nlp"
	"github.com/bdobrica/Kioku/internal/kioku/persona"
	"github.com/bdobrica/Kioku/internal/kioku/settings"
)

// Completer is the external language-completion capability the engine
// consumes. Implementations may suspend for network latency; failures are
// surfaced as-is and wrapped in *UpstreamError by the engine, never
// retried internally.
type Completer interface {
	Complete(ctx context.Context, payload ContextPayload) (string, error)
}

// Config holds the engine's identity and tunables.
type Config struct {
	// BotUserID and BotDisplayName identify the assistant in ledger rows.
	BotUserID      string
	BotDisplayName string

	// SummarizeDefaultCount is the number of messages a summarization
	// request covers when the user did not name one. Defaults to 20.
	SummarizeDefaultCount int

	// SummarizeChunkTokens is the estimated token budget per summarization
	// chunk handed to the completion provider. Defaults to 6000.
	SummarizeChunkTokens int
}

// Inbound is a message delivered by the transport layer. The transport has
// already determined the bot was addressed; the engine processes every
// Inbound it receives.
type Inbound struct {
	ChatID     string
	AuthorID   string
	AuthorName string
	Body       string
}

// Engine is the per-process orchestrator. One Engine serves all chats.
type Engine struct {
	ledger     *ledger.Ledger
	facts      *facts.Store
	settings   *settings.Registry
	personas   *persona.Catalogue
	classifier nlp.Provider
	completer  Completer
	locks      *ChatLocks
	logger     *slog.Logger
	cfg        Config
}

// New creates an Engine. classifier and completer must be non-nil; use the
// nlp.Heuristic classifier when no model is configured.
func New(l *ledger.Ledger, f *facts.Store, s *settings.Registry, p *persona.Catalogue, classifier nlp.Provider, completer Completer, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SummarizeDefaultCount <= 0 {
		cfg.SummarizeDefaultCount = 20
	}
	if cfg.SummarizeChunkTokens <= 0 {
		cfg.SummarizeChunkTokens = 6000
	}
	return &Engine{
		ledger:     l,
		facts:      f,
		settings:   s,
		personas:   p,
		classifier: classifier,
		completer:  completer,
		locks:      NewChatLocks(),
		logger:     logger,
		cfg:        cfg,
	}
}

// Settings exposes the settings registry as the engine's public settings
// contract (consumed by the admin HTTP surface).
func (e *Engine) Settings() *settings.Registry {
	return e.settings
}

// HandleMessage runs the full per-message state machine under the chat
// lock: append inbound → classify → mutate/recall/summarize → assemble
// payload → complete → append reply. It returns the assistant's reply for
// the transport to deliver.
//
// On completion-provider failure or cancellation no reply is appended to
// the ledger; any fact mutation already committed for this message stays
// committed, so retrying the same message is safe.
func (e *Engine) HandleMessage(ctx context.Context, in Inbound) (string, error) {
	var reply string
	err := e.locks.WithChatLock(ctx, in.ChatID, func() error {
		var err error
		reply, err = e.process(ctx, in)
		return err
	})
	return reply, err
}

func (e *Engine) process(ctx context.Context, in Inbound) (string, error) {
	seq, err := e.ledger.Append(ctx, &ledger.Message{
		ChatID:     in.ChatID,
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
		Role:       ledger.RoleUser,
		Body:       in.Body,
	})
	if err != nil {
		return "", err
	}

	set, err := e.settings.Get(ctx, in.ChatID)
	if err != nil {
		return "", err
	}

	window, err := e.ledger.RecentWindow(ctx, in.ChatID, set.ContextWindowSize)
	if err != nil {
		return "", err
	}

	intent := e.classify(ctx, in, window)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.logger.Debug("engine: classified message",
		"trace_id", trace.FromContext(ctx),
		"chat_id", in.ChatID,
		"sequence_no", seq,
		"intent", string(intent.Intent),
		"confidence", intent.Confidence,
	)

	var reply string
	switch intent.Intent {
	case nlp.IntentMemoryWrite:
		reply, err = e.handleMemoryWrite(ctx, in, set, window, intent)
	case nlp.IntentMemoryQuery:
		reply, err = e.handleMemoryQuery(ctx, in, set, window, intent)
	case nlp.IntentSummarize:
		reply, err = e.handleSummarize(ctx, in, set, intent)
	default:
		reply, err = e.complete(ctx, e.buildPayload(set, window, e.loadFacts(ctx, in.ChatID), in.Body, ""))
	}
	if err != nil {
		return "", err
	}

	if _, err := e.ledger.Append(ctx, &ledger.Message{
		ChatID:     in.ChatID,
		AuthorID:   e.cfg.BotUserID,
		AuthorName: e.cfg.BotDisplayName,
		Role:       ledger.RoleAssistant,
		Body:       reply,
	}); err != nil {
		return "", err
	}

	return reply, nil
}

// classify runs the intent classifier, collapsing every failure mode to
// ordinary chat — the fallback that never mutates state.
func (e *Engine) classify(ctx context.Context, in Inbound, window []ledger.Message) *nlp.ClassifyResponse {
	// The inbound message was already appended, so the window's last entry
	// is the message being classified; context is everything before it.
	context := window
	if n := len(context); n > 0 {
		context = context[:n-1]
	}

	req := nlp.ClassifyRequest{
		Message:      in.Body,
		RecentWindow: toHistory(context),
	}

	resp, err := e.classifier.Classify(ctx, req)
	if err != nil {
		e.logger.Warn("engine: classification failed, treating as chat",
			"trace_id", trace.FromContext(ctx),
			"chat_id", in.ChatID,
			"err", err,
		)
		return &nlp.ClassifyResponse{Intent: nlp.IntentChat}
	}
	return resp
}

// handleMemoryWrite commits the fact before building context, so the reply
// generated for this very turn can already reflect it.
func (e *Engine) handleMemoryWrite(ctx context.Context, in Inbound, set *settings.Settings, window []ledger.Message, intent *nlp.ClassifyResponse) (string, error) {
	overwrote, err := e.facts.Remember(ctx, in.ChatID, intent.Key, intent.Value, in.AuthorID)
	if err != nil {
		return "", err
	}

	verb := "saved"
	if overwrote {
		verb = "updated"
	}
	e.logger.Info("engine: fact remembered",
		"trace_id", trace.FromContext(ctx),
		"chat_id", in.ChatID,
		"key", facts.NormalizeKey(intent.Key),
		"overwrote", overwrote,
	)

	hint := fmt.Sprintf(
		"You just %s the fact %q for %s. Acknowledge briefly that it is %s.",
		verb, facts.NormalizeKey(intent.Key), in.AuthorName, verb,
	)
	return e.complete(ctx, e.buildPayload(set, window, e.loadFacts(ctx, in.ChatID), in.Body, hint))
}

// handleMemoryQuery answers a confident recall directly, without a
// completion round trip. Misses and ambiguous matches still route through
// the provider with the failed query folded into the payload as a hint, so
// the assistant can respond naturally.
func (e *Engine) handleMemoryQuery(ctx context.Context, in Inbound, set *settings.Settings, window []ledger.Message, intent *nlp.ClassifyResponse) (string, error) {
	fact, err := e.facts.Recall(ctx, in.ChatID, intent.Query)
	switch {
	case err == nil:
		return fmt.Sprintf("📌 %s: %s", fact.SubjectKey, fact.Value), nil
	case errors.Is(err, facts.ErrNotFound):
		hint := fmt.Sprintf(
			"The user asked for a saved fact matching %q, but nothing matching is saved for this chat. Say so naturally.",
			intent.Query,
		)
		return e.complete(ctx, e.buildPayload(set, window, e.loadFacts(ctx, in.ChatID), in.Body, hint))
	default:
		return "", err
	}
}

// complete invokes the completion provider, wrapping any failure as an
// *UpstreamError so callers can distinguish it from storage failures.
func (e *Engine) complete(ctx context.Context, payload ContextPayload) (string, error) {
	reply, err := e.completer.Complete(ctx, payload)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}
	return strings.TrimSpace(reply), nil
}

// buildPayload loads the chat's facts and assembles the bounded payload.
// A fact-store failure only degrades the payload (no facts) — the reply is
// still generated, just without memory.
func (e *Engine) buildPayload(set *settings.Settings, window []ledger.Message, allFacts map[string]string, currentMsg, hint string) ContextPayload {
	payload := BuildPayload(set, e.personas.Get(set.Tone), window, allFacts, currentMsg)
	payload.AnswerHint = hint
	return payload
}

// loadFacts fetches all facts for the chat, logging and tolerating
// failure.
func (e *Engine) loadFacts(ctx context.Context, chatID string) map[string]string {
	all, err := e.facts.AllFacts(ctx, chatID)
	if err != nil {
		e.logger.Warn("engine: loading facts failed, continuing without",
			"trace_id", trace.FromContext(ctx),
			"chat_id", chatID,
			"err", err,
		)
		return nil
	}
	return all
}

func toHistory(msgs []ledger.Message) []nlp.HistoryMessage {
	if len(msgs) == 0 {
		return nil
	}
	history := make([]nlp.HistoryMessage, len(msgs))
	for i, m := range msgs {
		history[i] = nlp.HistoryMessage{
			Author:  m.AuthorName,
			Role:    string(m.Role),
			Content: m.Body,
		}
	}
	return history
}
