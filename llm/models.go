// Package llm provides shared data models for LLM providers.
package llm

import (
	"bytes"
	"encoding/json"
)

// Roles used in ChatMessage.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage represents one turn of a conversation.
// A run of consecutive tool messages is one batch of function responses and
// providers that can send it as a single turn do so.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // For assistant messages with tool calls
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool result messages
	Name       string     `json:"name,omitempty"`         // Tool name for tool result messages
}

// ToolCall represents a tool call from the LLM.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolDefinition defines a tool that the LLM can call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message from a model response,
// keeping its tool calls.
func AssistantMessage(resp LLMResponse) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
}

// ToolMessage creates a tool result message. content is the JSON encoded
// function response.
func ToolMessage(call ToolCall, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

// LLMResponse represents one candidate turn returned by a provider.
type LLMResponse struct {
	Content   string     // Concatenated text
	Texts     []string   // Non-empty text parts in order
	ToolCalls []ToolCall // Tool calls requested by the LLM
	Usage     *TokenUsage
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// decodeObject parses raw as a JSON object for backends that take
// structured arguments or results. Empty input and null give an empty
// object; anything else that is not an object is kept whole under "result".
func decodeObject(raw []byte) map[string]any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return map[string]any{"result": string(raw)}
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj
}
