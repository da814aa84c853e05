// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific error handling

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a consistent interface for tool-calling chat completions.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// ChatWithTools sends a chat completion request with tool definitions.
	// The LLM may respond with tool calls in LLMResponse.ToolCalls.
	ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error)
}
