// Package extract pulls structured variables out of conversation
// transcripts with a chat-completion model constrained to JSON output.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/voxflow-ai/voxflow/pkg/catalog"
)

const systemPrompt = "You are a variable extraction assistant. Return only valid JSON with no additional text."

// Invoker runs one system+user completion and returns the raw model text.
// The production implementation wraps the OpenAI client; tests substitute
// their own.
type Invoker interface {
	Invoke(ctx context.Context, system, user string) (string, error)
}

// Extractor builds extraction prompts from node variable declarations and
// parses the model's JSON reply.
type Extractor struct {
	inv Invoker
	log *slog.Logger
}

// Config for the OpenAI-backed invoker.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// New returns an Extractor backed by the OpenAI chat completions API.
func New(cfg Config, log *slog.Logger) *Extractor {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}
	return NewWithInvoker(&openaiInvoker{client: client, cfg: cfg}, log)
}

// NewWithInvoker returns an Extractor using a caller-supplied Invoker.
func NewWithInvoker(inv Invoker, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{inv: inv, log: log}
}

type openaiInvoker struct {
	client openai.Client
	cfg    Config
}

func (o *openaiInvoker) Invoke(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature:         param.NewOpt(0.0),
		MaxCompletionTokens: param.NewOpt(o.cfg.MaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("extract: no choices in completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// Reference carries on-file facts included in the prompt so the model can
// tell the user's statements apart from known data without copying it.
type Reference struct {
	FirstName string
	LastName  string
}

// Extract asks the model for the declared variables given the recent
// transcript. Nulls and "N/A" sentinels are stripped from the result. A
// node with no variables returns an empty map without calling the model.
func (e *Extractor) Extract(ctx context.Context, vars []catalog.Variable, transcript string, ref Reference) (map[string]any, error) {
	if len(vars) == 0 {
		return map[string]any{}, nil
	}

	raw, err := e.inv.Invoke(ctx, systemPrompt, buildPrompt(vars, transcript, ref))
	if err != nil {
		return nil, fmt.Errorf("extract: completion: %w", err)
	}

	var result map[string]any
	if err := unmarshalRepaired([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("extract: parse model output: %w", err)
	}

	cleaned := make(map[string]any, len(result))
	for k, v := range result {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && (s == "N/A" || s == "null") {
			continue
		}
		cleaned[k] = v
	}
	e.log.Debug("extract: variables", "count", len(cleaned))
	return cleaned, nil
}

func buildPrompt(vars []catalog.Variable, transcript string, ref Reference) string {
	descs := make([]map[string]string, 0, len(vars))
	for _, v := range vars {
		typ := v.Type
		if typ == "" {
			typ = "string"
		}
		descs = append(descs, map[string]string{
			"name":        v.Name,
			"type":        typ,
			"description": v.Description,
		})
	}
	descJSON, _ := json.MarshalIndent(descs, "", "  ")

	var b strings.Builder
	b.WriteString("Extract variables from the USER's messages in this transcript.\n\n")
	b.WriteString("<transcript>\n")
	b.WriteString(transcript)
	b.WriteString("\n</transcript>\n\n")
	b.WriteString("<variables_to_extract>\n")
	b.Write(descJSON)
	b.WriteString("\n</variables_to_extract>\n\n")
	b.WriteString("<reference_info>\n")
	fmt.Fprintf(&b, "Customer name on file: %s %s\n", ref.FirstName, ref.LastName)
	b.WriteString("</reference_info>\n\n")
	b.WriteString(`<critical_instructions>
- ONLY extract values that the USER explicitly stated in their messages
- DO NOT extract or guess values from context or reference info
- DO NOT hallucinate or infer values that weren't clearly spoken by the user
- If user did not provide a date of birth, extracted_dob should be null
- If user did not confirm something, the boolean should be false
- Return ONLY a valid JSON object with variable names as keys
- For boolean variables, use true/false (not strings)
- For dates that user DID provide, use YYYY-MM-DD format
- For string variables, use null if NOT explicitly stated by user
</critical_instructions>

Return the JSON object:`)
	return b.String()
}

// FormatTranscript joins transcript entries as "role: content" lines.
func FormatTranscript(entries []Entry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Role+": "+e.Content)
	}
	return strings.Join(lines, "\n")
}

// Entry is the minimal transcript shape extraction needs.
type Entry struct {
	Role    string
	Content string
}
