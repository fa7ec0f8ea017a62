package memo

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/voxflow-ai/voxflow/pkg/callctx"
)

const summaryInstructions = `You write concise call summaries for a mortgage
servicing memo system. Summarize the conversation below in 3-4 sentences:
who was contacted, what was discussed, any commitment or payment made, and
how the call ended. Write in past tense, third person, no markdown.`

// GeminiSummarizer generates call summaries with the Gemini API.
type GeminiSummarizer struct {
	client *genai.Client
	model  string
}

// NewGeminiSummarizer dials the Gemini API. Model defaults to
// gemini-2.0-flash.
func NewGeminiSummarizer(ctx context.Context, apiKey, model string) (*GeminiSummarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("memo: missing gemini api key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiSummarizer{client: client, model: model}, nil
}

func (g *GeminiSummarizer) Summarize(ctx context.Context, transcript []callctx.TranscriptEntry, memo map[string]any) (string, error) {
	var sb strings.Builder
	sb.WriteString(summaryInstructions)
	sb.WriteString("\n\nDisposition: ")
	sb.WriteString(fmt.Sprintf("%v", memo["Disposition"]))
	sb.WriteString("\n\nConversation:\n")
	for _, e := range transcript {
		if strings.HasPrefix(e.Content, "[Node:") {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", e.Role, e.Content)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(sb.String()), nil)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("generate summary: no candidates")
	}
	var out strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			out.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(out.String()), nil
}
