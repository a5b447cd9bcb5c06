package claude

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/tools"
)

// encodeConversation maps stored messages onto Anthropic message params.
// Tool-role messages become user messages carrying tool_result blocks, per
// the Messages API contract.
func encodeConversation(msgs []*models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		blocks := encodeBlocks(msg.Content)
		if len(blocks) == 0 {
			continue
		}
		switch msg.Role {
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func encodeBlocks(content []models.ContentBlock) []anthropic.ContentBlockParamUnion {
	var out []anthropic.ContentBlockParamUnion
	for _, block := range content {
		switch block.Type {
		case models.BlockText:
			if block.Text != "" {
				out = append(out, anthropic.NewTextBlock(block.Text))
			}
		case models.BlockToolUse:
			out = append(out, anthropic.NewToolUseBlock(block.ID, json.RawMessage(block.Input), block.Name))
		case models.BlockToolResult:
			out = append(out, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError))
		}
	}
	return out
}

// decodeContent maps an accumulated API message back onto content blocks.
func decodeContent(content []anthropic.ContentBlockUnion) []models.ContentBlock {
	var out []models.ContentBlock
	for _, block := range content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out = append(out, models.ContentBlock{Type: models.BlockText, Text: variant.Text})
		case anthropic.ToolUseBlock:
			out = append(out, models.ContentBlock{
				Type:  models.BlockToolUse,
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.Input),
			})
		}
	}
	return out
}

// encodeTools maps the built-in tool schemas onto API tool params.
func encodeTools(schemas []tools.Schema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, schema := range schemas {
		param := anthropic.ToolUnionParamOfTool(
			anthropic.ToolInputSchemaParam{ExtraFields: schema.InputSchema},
			schema.Name,
		)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(schema.Description)
		}
		out = append(out, param)
	}
	return out
}
