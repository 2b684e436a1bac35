package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mindloom/mindloom/internal/runtimecfg"
	"github.com/mindloom/mindloom/logger"
	"github.com/mindloom/mindloom/provider"
	"github.com/mindloom/mindloom/store"
	"github.com/mindloom/mindloom/tools"
	"github.com/mindloom/mindloom/wake"
)

// sensitiveTools require explicit approval before execution.
var sensitiveTools = map[string]struct{}{
	"exec":       {},
	"write_file": {},
	"edit_file":  {},
}

// Options configures a worker run.
type Options struct {
	InteractionID     string
	Workspace         string
	MaxIterations     int
	PermissionTimeout time.Duration
}

// Runner drives one interaction to completion: it replays the message log
// through the provider, executes tool calls, and posts the result back.
type Runner struct {
	client   *Client
	provider provider.Provider
	tools    *tools.Registry
	opts     Options
}

// NewRunner creates a worker runner.
func NewRunner(client *Client, p provider.Provider, registry *tools.Registry, opts Options) *Runner {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 20
	}
	if opts.PermissionTimeout <= 0 {
		opts.PermissionTimeout = 60 * time.Second
	}
	return &Runner{
		client:   client,
		provider: p,
		tools:    registry,
		opts:     opts,
	}
}

// Run executes the worker loop. Failures are reported to the coordinator as
// a failed result; the returned error reflects only delivery problems.
func (r *Runner) Run(ctx context.Context) error {
	id := r.opts.InteractionID

	in, err := r.client.GetInteraction(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load interaction: %w", err)
	}
	history, err := r.client.GetMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	messages := r.buildMessages(in, history)
	toolDefs := r.tools.Defs()

	var usage provider.Usage
	var model string

	for i := 0; i < r.opts.MaxIterations; i++ {
		resp, err := r.provider.Chat(ctx, &provider.Request{
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			return r.client.SubmitResult(ctx, id, wake.Result{Error: fmt.Sprintf("provider error: %v", err)})
		}

		usage.Add(resp.Usage)
		if resp.Model != "" {
			model = resp.Model
		}

		if !resp.HasToolCalls() {
			return r.client.SubmitResult(ctx, id, wake.Result{
				Content: resp.Content,
				Model:   model,
				Usage:   &wake.Usage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, TotalTokens: usage.TotalTokens},
			})
		}

		messages = append(messages, provider.AssistantMessageWithTools(resp.Content, resp.ToolCalls))

		for _, tc := range resp.ToolCalls {
			result := r.runToolCall(ctx, id, tc)
			if strings.HasPrefix(result, "Error:") {
				logger.Error("tool error", "tool", tc.Function.Name, "err", result)
			}
			messages = append(messages, provider.ToolResultMessage(tc.ID, tc.Function.Name, result))
		}
	}

	return r.client.SubmitResult(ctx, id, wake.Result{Error: "max tool iterations exceeded"})
}

// runToolCall executes one tool call, gating sensitive tools behind the
// permission relay. An unanswered request is a denial.
func (r *Runner) runToolCall(ctx context.Context, interactionID string, tc provider.ToolCall) string {
	name := tc.Function.Name

	if _, sensitive := sensitiveTools[name]; sensitive {
		requestID, err := r.client.RequestPermission(ctx, interactionID, wake.ToolCallRequest{
			Tool:        name,
			Description: describeToolCall(tc),
			Args:        tc.Arguments,
		})
		if err != nil {
			logger.Warn("permission request failed, denying", "tool", name, "err", err)
			return fmt.Sprintf("Error: permission request for tool '%s' failed", name)
		}

		if !r.client.AwaitPermission(ctx, requestID, r.opts.PermissionTimeout) {
			logger.Info("tool call denied", "tool", name, "request", requestID)
			return fmt.Sprintf("Error: permission denied for tool '%s'", name)
		}
	}

	result := r.tools.Run(ctx, name, tc.Arguments)
	if len(result) > runtimecfg.ToolResultMaxChars {
		result = result[:runtimecfg.ToolResultMaxChars] + "\n[tool result clipped]"
	}
	return result
}

func describeToolCall(tc provider.ToolCall) string {
	args := strings.TrimSpace(tc.Function.Arguments)
	if args == "" || args == "{}" {
		return fmt.Sprintf("Run tool %s", tc.Function.Name)
	}
	if len(args) > 200 {
		args = args[:200] + "..."
	}
	return fmt.Sprintf("Run tool %s with arguments %s", tc.Function.Name, args)
}

// buildMessages converts the stored message log into provider messages.
func (r *Runner) buildMessages(in *store.Interaction, history []*store.Message) []provider.Message {
	messages := make([]provider.Message, 0, len(history)+1)
	messages = append(messages, provider.SystemMessage(r.systemPrompt(in)))

	for _, m := range history {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case store.RoleUser:
			messages = append(messages, provider.UserMessage(m.Content))
		case store.RoleAssistant:
			messages = append(messages, provider.AssistantMessage(m.Content))
		case store.RoleSystem:
			messages = append(messages, provider.SystemMessage(m.Content))
		}
	}
	return messages
}

func (r *Runner) systemPrompt(in *store.Interaction) string {
	var sb strings.Builder
	sb.WriteString("You are a coding assistant working on the user's project.\n")
	if r.opts.Workspace != "" {
		fmt.Fprintf(&sb, "Your working directory is %s. Relative paths resolve from there.\n", r.opts.Workspace)
	}
	sb.WriteString("Use the available tools to read, edit, and run code. ")
	sb.WriteString("Some tools require user approval before they execute; if approval is denied, explain what you wanted to do and continue without it.\n")
	if names := r.tools.Names(); len(names) > 0 {
		fmt.Fprintf(&sb, "Available tools: %s.\n", strings.Join(names, ", "))
	}
	return sb.String()
}
