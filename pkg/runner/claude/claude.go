// Package claude implements the claude_api runner backend over the
// Anthropic Messages API with streaming.
package claude

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tether-ai/tether-agent/pkg/events"
	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/runner"
	"github.com/tether-ai/tether-agent/pkg/store"
	"github.com/tether-ai/tether-agent/pkg/tools"
)

const (
	maxTokens    = 8192
	systemPrompt = "You are a coding agent working inside the user's project directory. " +
		"Use the available tools to read, modify, and run code. Be concise."
)

// Backend drives conversations through the Anthropic API.
type Backend struct {
	client anthropic.Client
	store  *store.Store
	cb     runner.Callbacks
	model  string
	apiKey string
	logger *slog.Logger
}

// New creates the backend. An empty apiKey produces a backend that reports
// itself unavailable rather than failing construction, so the control
// plane still serves sessions attached to external runners.
func New(st *store.Store, cb runner.Callbacks, apiKey, model string) *Backend {
	return &Backend{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		store:  st,
		cb:     cb,
		model:  model,
		apiKey: apiKey,
		logger: slog.Default().With("component", "claude-backend"),
	}
}

var _ runner.Backend = (*Backend)(nil)

// Info describes the backend for the session header.
func (b *Backend) Info() runner.Info {
	return runner.Info{Title: "Claude", Model: b.model, Provider: "anthropic"}
}

// Available reports whether API credentials are configured.
func (b *Backend) Available() error {
	if b.apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY not configured: %w", runner.ErrUnavailable)
	}
	return nil
}

// CallAPI streams one model turn, forwarding text deltas as final output as
// they arrive. Returns (nil, nil) when the call is cancelled by a stop.
func (b *Backend) CallAPI(ctx context.Context, sessionID string, msgs []*models.Message) (*runner.APIResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  encodeConversation(msgs),
		Tools:     encodeTools(tools.Schemas()),
	}

	stream := b.client.Messages.NewStreaming(ctx, params)
	message := anthropic.Message{}
	for stream.Next() {
		if b.store.StopRequested(sessionID) {
			_ = stream.Close()
			return nil, nil
		}
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulating stream event: %w", err)
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				b.cb.OnOutput(context.Background(), sessionID, delta.Text, events.KindFinal, true)
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	return &runner.APIResponse{
		Content:    decodeContent(message.Content),
		StopReason: string(message.StopReason),
		Usage: runner.Usage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
	}, nil
}

// SaveAssistantResponse persists the assistant turn to the conversation.
func (b *Backend) SaveAssistantResponse(ctx context.Context, sessionID string, content []models.ContentBlock) error {
	_, err := b.store.AppendMessage(ctx, sessionID, models.RoleAssistant, content)
	return err
}

// ExtractToolUses returns the tool invocations of an assistant turn.
func (b *Backend) ExtractToolUses(content []models.ContentBlock) []runner.ToolUse {
	var uses []runner.ToolUse
	for _, block := range content {
		if block.Type == models.BlockToolUse {
			uses = append(uses, runner.ToolUse{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	return uses
}

// AddToolResults persists tool results as a tool-role message; the next
// CallAPI encodes it as tool_result blocks.
func (b *Backend) AddToolResults(ctx context.Context, sessionID string, uses []runner.ToolUse, results []runner.ToolResult) error {
	blocks := make([]models.ContentBlock, len(uses))
	for i, use := range uses {
		blocks[i] = models.ContentBlock{
			Type:      models.BlockToolResult,
			ToolUseID: use.ID,
			Content:   results[i].Output,
			IsError:   results[i].IsError,
		}
	}
	_, err := b.store.AppendMessage(ctx, sessionID, models.RoleTool, blocks)
	return err
}
