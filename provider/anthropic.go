// Package provider provides LLM provider implementations.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mindloom/mindloom/logger"
)

const (
	anthropicAPIBase           = "https://api.anthropic.com"
	anthropicFallbackMaxTokens = 1024
)

// AnthropicProvider implements the Provider interface for Anthropic.
type AnthropicProvider struct {
	modelName   string
	maxTokens   int
	temperature float64
	client      anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey, apiBase, modelName string, maxTokens int, temperature float64) *AnthropicProvider {
	baseURL := apiBaseURL(apiBase, anthropicAPIBase, "/v1/messages")
	client := anthropic.NewClient(
		aoption.WithAPIKey(apiKey),
		aoption.WithBaseURL(baseURL),
		aoption.WithMaxRetries(2),
	)

	return &AnthropicProvider{
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      client,
	}
}

// decodeToolInput turns the JSON argument string of a tool call into the
// value the Anthropic API expects. Invalid JSON is passed through verbatim
// so the model can see what it produced.
func decodeToolInput(arguments string) any {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}
	}
	var v any
	if json.Unmarshal([]byte(arguments), &v) != nil {
		return arguments
	}
	return v
}

// translateToolSchema maps a generic JSON-schema parameter map onto the
// SDK's input schema type. The top-level "type" is implied by the SDK;
// everything besides properties/required rides along as extra fields.
func translateToolSchema(params map[string]any) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{ExtraFields: map[string]any{}}
	if params == nil {
		return schema
	}
	schema.Properties = params["properties"]
	switch req := params["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		names := make([]string, 0, len(req))
		for _, item := range req {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		schema.Required = names
	}
	for k, v := range params {
		switch k {
		case "type", "properties", "required":
		default:
			schema.ExtraFields[k] = v
		}
	}
	return schema
}

func anthropicToolParams(defs []ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		tool := anthropic.ToolParam{
			Name:        d.Function.Name,
			InputSchema: translateToolSchema(d.Function.Parameters),
		}
		if desc := d.Function.Description; desc != "" {
			tool.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

// conversationBuilder accumulates MessageParams, batching consecutive tool
// results into a single user message as the Anthropic API requires.
type conversationBuilder struct {
	system  string
	params  []anthropic.MessageParam
	results []anthropic.ContentBlockParamUnion
}

func (b *conversationBuilder) flushResults() {
	if len(b.results) > 0 {
		b.params = append(b.params, anthropic.NewUserMessage(b.results...))
		b.results = nil
	}
}

func (b *conversationBuilder) add(m Message) error {
	switch m.Role {
	case "system":
		b.system = m.Content
	case "user":
		b.flushResults()
		b.params = append(b.params, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	case "assistant":
		b.flushResults()
		blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			if tc.Type != "" && tc.Type != "function" {
				return fmt.Errorf("unsupported assistant tool call type: %s", tc.Type)
			}
			blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: decodeToolInput(tc.Function.Arguments),
			}})
		}
		if len(blocks) > 0 {
			b.params = append(b.params, anthropic.NewAssistantMessage(blocks...))
		}
	case "tool":
		b.results = append(b.results, anthropic.ContentBlockParamUnion{OfToolResult: &anthropic.ToolResultBlockParam{
			ToolUseID: m.ToolCallID,
			Content: []anthropic.ToolResultBlockParamContentUnion{{
				OfText: &anthropic.TextBlockParam{Text: m.Content},
			}},
		}})
	default:
		return fmt.Errorf("unsupported message role: %s", m.Role)
	}
	return nil
}

func buildAnthropicConversation(messages []Message) (string, []anthropic.MessageParam, error) {
	var b conversationBuilder
	for _, m := range messages {
		if err := b.add(m); err != nil {
			return "", nil, err
		}
	}
	b.flushResults()
	return b.system, b.params, nil
}

// Chat sends a chat completion request to Anthropic.
func (p *AnthropicProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	systemPrompt, messages, err := buildAnthropicConversation(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	logger.Info("anthropic request", "model", p.modelName, "toolCount", len(req.Tools), "messageCount", len(messages))

	maxTokens := p.maxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicFallbackMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.modelName),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		Tools:     anthropicToolParams(req.Tools),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if p.temperature != 0 {
		params.Temperature = anthropic.Float(p.temperature)
	}

	messageResp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		logger.Error("anthropic request send error", "err", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var textParts []string
	toolCalls := make([]ToolCall, 0)
	for _, block := range messageResp.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				textParts = append(textParts, block.Text)
			}
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
				Arguments: block.Input,
			})
		}
	}

	logger.Info("anthropic response",
		"model", p.modelName,
		"finishReason", messageResp.StopReason,
		"toolCallCount", len(toolCalls),
		"latencyMs", time.Since(start).Milliseconds(),
	)

	return &Response{
		Content:   strings.Join(textParts, "\n"),
		ToolCalls: toolCalls,
		Model:     p.modelName,
		Usage: Usage{
			PromptTokens:     int(messageResp.Usage.InputTokens),
			CompletionTokens: int(messageResp.Usage.OutputTokens),
			TotalTokens:      int(messageResp.Usage.InputTokens + messageResp.Usage.OutputTokens),
		},
	}, nil
}
