package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

const (
	defaultClassifyModel = "gemini-2.5-flash"

	// Classification wants determinism far more than creativity, so the
	// temperature is fixed low regardless of the chat's configured value.
	classifyTemperature = 0.3
	classifyMaxTokens   = 512
)

// classifyPromptTmpl is the instruction set sent with every classification
// call. Two printf verbs are substituted at call time:
//  1. %s — recent-window transcript (or a placeholder when empty)
//  2. %s — the current user message
const classifyPromptTmpl = `You are the intent classifier for a group-chat assistant with durable memory.
Your only job is to translate the user's message into a structured JSON decision.
You NEVER answer the message yourself — you only classify it.

Recent messages for context:
%s

Current message: %q

RULES (strict — do not deviate):
1. Respond ONLY with valid JSON. No markdown, no code fences, no text outside JSON.
2. Use intent "memory_write" when the user asks to save or remember something; extract a short
   subject key (e.g. "phone number", "john's email") and the exact value to store.
3. Use intent "memory_query" when the user asks for something previously saved; put the subject
   being asked about in "query".
4. Use intent "summarize" when the user asks for a summary or recap; set "message_count" to the
   number of messages requested, or 0 when unspecified.
5. Use intent "chat" for everything else, and whenever you are unsure.
6. Do not invent intents, keys, or values that are not in the message.

JSON schema for your response (include ONLY fields relevant to the intent):
{
  "intent":        "memory_write" | "memory_query" | "summarize" | "chat",
  "key":           "<subject key to save under>",
  "value":         "<value to save>",
  "query":         "<subject being asked about>",
  "message_count": <number of messages to summarize, 0 for default>,
  "confidence":    0.0-1.0,
  "explanation":   "<one sentence describing your decision>"
}`

// GeminiProvider implements Provider using the Gemini API with JSON output
// and schema validation to guarantee a parseable ClassifyResponse.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider returns a Provider backed by the given Gemini client.
// The returned provider is safe for concurrent use. When model is empty a
// cost-efficient default is used; classification does not need the chat's
// configured reply model.
func NewGeminiProvider(client *genai.Client, model string) *GeminiProvider {
	if model == "" {
		model = defaultClassifyModel
	}
	return &GeminiProvider{client: client, model: model}
}

// Classify sends the message to Gemini and returns the validated intent.
func (p *GeminiProvider) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	model := p.client.GenerativeModel(p.model)

	temp := float32(classifyTemperature)
	maxTokens := int32(classifyMaxTokens)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		MaxOutputTokens:  &maxTokens,
		ResponseMIMEType: "application/json",
	}

	prompt := fmt.Sprintf(classifyPromptTmpl, transcript(req.RecentWindow), req.Message)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("nlp: gemini request: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	raw := []byte(stripCodeFences(text))
	if err := validateIntentJSON(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var classified ClassifyResponse
	if err := json.Unmarshal(raw, &classified); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrMalformedOutput, err)
	}
	return &classified, nil
}

// transcript renders the recent window as "Author: text" lines for the
// classification prompt.
func transcript(window []HistoryMessage) string {
	if len(window) == 0 {
		return "(no recent context)"
	}
	var b strings.Builder
	for _, m := range window {
		author := m.Author
		if author == "" {
			author = m.Role
		}
		fmt.Fprintf(&b, "%s: %s\n", author, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// responseText extracts the concatenated text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return b.String(), nil
}

// stripCodeFences removes a surrounding ```json … ``` block if the model
// wrapped its output despite the JSON response type.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
