// Anthropic Provider implementation using official anthropic-sdk-go.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for Anthropic Messages API
// - Tool results of one round sent as a single user message

package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicDefaultMaxTokens is used when no limit is configured; the
// Messages API requires one.
const anthropicDefaultMaxTokens = 4096

// AnthropicProvider implements the Provider interface for Anthropic Claude.
type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey, model string, maxTokens uint32, temperature float32) *AnthropicProvider {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	limit := int64(maxTokens)
	if limit == 0 {
		limit = anthropicDefaultMaxTokens
	}

	return &AnthropicProvider{
		client:      client,
		model:       model,
		maxTokens:   limit,
		temperature: float64(temperature),
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Model returns the current model.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// ChatWithTools sends a chat completion request with tool definitions.
func (p *AnthropicProvider) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error) {
	anthropicMessages, systemPrompt := convertToAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Messages:    anthropicMessages,
		Temperature: anthropic.Float(p.temperature),
		Tools:       convertToAnthropicTools(tools),
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	var out LLMResponse
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if variant.Text != "" {
				out.Texts = append(out.Texts, variant.Text)
				out.Content += variant.Text
			}
		case anthropic.ToolUseBlock:
			inputJSON := []byte(variant.Input)
			if len(inputJSON) == 0 {
				inputJSON = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: inputJSON,
			})
		}
	}

	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		out.Usage = &TokenUsage{
			PromptTokens:     uint32(message.Usage.InputTokens),
			CompletionTokens: uint32(message.Usage.OutputTokens),
			TotalTokens:      uint32(message.Usage.InputTokens + message.Usage.OutputTokens),
		}
	}

	return out, nil
}

// convertToAnthropicMessages handles tool calls and tool responses.
// Consecutive tool messages are folded into one user message, which is what
// the API expects after an assistant turn with several tool_use blocks.
func convertToAnthropicMessages(messages []ChatMessage) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for i, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt = msg.Content
		case RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case RoleAssistant:
			content := anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
			}
			if msg.Content != "" {
				content.Content = append(content.Content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := decodeObject(tc.Arguments)
				content.Content = append(content.Content, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			if len(content.Content) > 0 {
				anthropicMessages = append(anthropicMessages, content)
			}
		case RoleTool:
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)
			if i > 0 && messages[i-1].Role == RoleTool && len(anthropicMessages) > 0 {
				last := &anthropicMessages[len(anthropicMessages)-1]
				last.Content = append(last.Content, block)
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(block))
		}
	}

	return anthropicMessages, systemPrompt
}

// convertToAnthropicTools converts tool definitions to Anthropic format.
func convertToAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		// Extract properties and required from the full schema
		properties, _ := t.Parameters["properties"].(map[string]any)
		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   stringList(t.Parameters["required"]),
			},
		}
		result[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}
	return result
}

// Verify AnthropicProvider implements Provider
var _ Provider = (*AnthropicProvider)(nil)
