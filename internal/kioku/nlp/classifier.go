package nlp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ConfidenceThreshold governs how the Classifier interprets raw provider
// output: classifications below it are downgraded to IntentChat, which
// never mutates state. The default errs toward answering conversationally
// over acting on a misread intent.
const ConfidenceThreshold = 0.6

// Classifier wraps a Provider with output validation and a safe fallback.
//
// It adds three layers of enforcement on top of the raw model output:
//  1. Structural validation: an intent missing its required fields (a
//     memory write without key and value, a query without a query string)
//     is downgraded to IntentChat instead of reaching the engine malformed.
//  2. Confidence threshold: low-confidence classifications become
//     IntentChat so the engine only mutates state on confident reads.
//  3. Fallback: when the provider fails outright (network, malformed
//     JSON), the optional fallback provider — normally the keyword
//     Heuristic — classifies instead, so the bot keeps working with a
//     degraded classifier rather than going silent.
type Classifier struct {
	provider Provider
	fallback Provider
	logger   *slog.Logger
}

// NewClassifier returns a Classifier backed by provider. fallback may be
// nil; when present it is consulted only after provider errors.
func NewClassifier(provider, fallback Provider, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: provider, fallback: fallback, logger: logger}
}

// Classify calls the underlying Provider, then validates and sanitizes the
// returned response. It never returns an intent the engine cannot act on:
// every failure mode collapses to IntentChat.
func (c *Classifier) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	resp, err := c.provider.Classify(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.fallback == nil {
			return nil, err
		}
		c.logger.Warn("nlp: provider failed, using fallback classifier",
			"err", err,
			"malformed", errors.Is(err, ErrMalformedOutput),
		)
		resp, err = c.fallback.Classify(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	return sanitize(resp), nil
}

// sanitize enforces structural validity and the confidence threshold.
func sanitize(resp *ClassifyResponse) *ClassifyResponse {
	downgrade := func(reason string) *ClassifyResponse {
		return &ClassifyResponse{
			Intent:      IntentChat,
			Confidence:  resp.Confidence,
			Explanation: reason,
		}
	}

	switch resp.Intent {
	case IntentMemoryWrite:
		if strings.TrimSpace(resp.Key) == "" || strings.TrimSpace(resp.Value) == "" {
			return downgrade("memory write missing key or value")
		}
	case IntentMemoryQuery:
		if strings.TrimSpace(resp.Query) == "" {
			return downgrade("memory query missing query")
		}
	case IntentSummarize:
		if resp.MessageCount < 0 {
			resp.MessageCount = 0
		}
	case IntentChat:
		return resp
	default:
		return downgrade("unknown intent " + string(resp.Intent))
	}

	if resp.Confidence < ConfidenceThreshold {
		return downgrade("confidence below threshold")
	}
	return resp
}
