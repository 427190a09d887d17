package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiReasoner is the cloud fallback for intent normalization when the
// on-prem reasoning server is down or disabled.
type GeminiReasoner struct {
	client *genai.Client
	model  string
}

// NewGeminiReasoner builds a reasoner against the Gemini API.
func NewGeminiReasoner(ctx context.Context, apiKey, model string) (*GeminiReasoner, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiReasoner{client: client, model: model}, nil
}

const geminiSystemPrompt = `You classify one utterance from a phone call with an Indian food vendor or delivery rider.
Reply with JSON only: {"intent":"accept"|"reject"|"unknown","text":"<one short sentence to speak back, same language as the utterance>","end_call":true|false}.
"accept" means the speaker agrees/confirms, "reject" means they decline. Anything unclear is "unknown".`

// Reply implements Reasoner.
func (g *GeminiReasoner) Reply(ctx context.Context, utterance, sessionID string, callCtx map[string]string) (Reply, error) {
	var sb strings.Builder
	sb.WriteString("Utterance: ")
	sb.WriteString(utterance)
	for k, v := range callCtx {
		fmt.Fprintf(&sb, "\n%s: %s", k, v)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(sb.String()),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(geminiSystemPrompt, genai.RoleUser),
			ResponseMIMEType:  "application/json",
		})
	if err != nil {
		return Reply{}, fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	var out Reply
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return Reply{}, fmt.Errorf("gemini reply %q: %w", text, err)
	}
	if out.Intent == "" {
		out.Intent = "unknown"
	}
	return out, nil
}
