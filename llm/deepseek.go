// DeepSeek Provider implementation using go-openai library.
//
// Information Hiding:
// - Uses OpenAI-compatible API with different base URL
// - Supports deepseek-chat; deepseek-reasoner does not take tools

package llm

import (
	openai "github.com/sashabaranov/go-openai"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// DeepSeekProvider implements the Provider interface for DeepSeek.
// Request and response handling is shared with OpenAIProvider.
type DeepSeekProvider struct {
	*OpenAIProvider
}

// NewDeepSeekProvider creates a new DeepSeek provider.
func NewDeepSeekProvider(apiKey, model string, maxTokens uint32, temperature float32) *DeepSeekProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = deepseekBaseURL

	return &DeepSeekProvider{
		OpenAIProvider: &OpenAIProvider{
			client:      openai.NewClientWithConfig(config),
			name:        "deepseek",
			model:       model,
			maxTokens:   int(maxTokens),
			temperature: temperature,
		},
	}
}

// Verify DeepSeekProvider implements Provider
var _ Provider = (*DeepSeekProvider)(nil)
