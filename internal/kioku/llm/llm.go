// Package llm adapts the Gemini generative API to the engine's Completer
// contract. It renders the engine's assembled payload — persona, facts,
// transcript, hint — into a single chat completion request using the
// per-chat model name and temperature carried by the payload.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/bdobrica/Kioku/internal/kioku/engine"
	"github.com/bdobrica/Kioku/internal/kioku/ledger"
)

// ErrEmptyCompletion is returned when the model answers with no usable
// text, which the engine treats like any other upstream failure.
var ErrEmptyCompletion = errors.New("llm: model returned no text")

// maxOutputTokens caps reply length; group-chat answers should stay short.
const maxOutputTokens = 1024

// Gemini is a Completer backed by the Gemini API.
type Gemini struct {
	client *genai.Client
}

// NewGemini dials the Gemini API with the given key.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: creating client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Close releases the underlying API client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Client exposes the underlying API client so other Gemini consumers (the
// intent classifier) can share one connection.
func (g *Gemini) Client() *genai.Client {
	return g.client
}

// Complete renders the payload into a prompt and returns the model's
// reply. The payload's ModelName and Temperature come from the chat's
// settings, so two chats may hit different models at different
// temperatures through the same Gemini instance.
func (g *Gemini) Complete(ctx context.Context, payload engine.ContextPayload) (string, error) {
	model := g.client.GenerativeModel(payload.ModelName)
	temp := float32(payload.Temperature)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     &temp,
		MaxOutputTokens: genai.Ptr[int32](maxOutputTokens),
	}
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction(payload))},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(renderPrompt(payload)))
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// systemInstruction combines the persona with the chat's saved facts. The
// facts ride in the system message rather than the transcript so the model
// treats them as ground truth, not as something a participant said.
func systemInstruction(payload engine.ContextPayload) string {
	var sb strings.Builder
	sb.WriteString(payload.SystemPersona)

	if len(payload.RelevantFacts) > 0 {
		keys := make([]string, 0, len(payload.RelevantFacts))
		for k := range payload.RelevantFacts {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\n\nSaved facts for this chat:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, payload.RelevantFacts[k])
		}
	}
	return sb.String()
}

// renderPrompt flattens the transcript and the optional hint into the user
// turn of the request.
func renderPrompt(payload engine.ContextPayload) string {
	var sb strings.Builder

	if len(payload.RecentMessages) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, m := range payload.RecentMessages {
			fmt.Fprintf(&sb, "%s: %s\n", speaker(m), m.Body)
		}
	}

	if payload.AnswerHint != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(payload.AnswerHint)
		sb.WriteString("\n")
	}

	if sb.Len() == 0 {
		sb.WriteString("Reply to the conversation.")
	}
	return sb.String()
}

func speaker(m ledger.Message) string {
	if m.Role == ledger.RoleAssistant {
		return "you"
	}
	if m.AuthorName != "" {
		return m.AuthorName
	}
	return m.AuthorID
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
