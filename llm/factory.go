// LLM Provider Factory - Ergonomic builder-first API for creating LLM providers.
//
// Quick Start:
//
//	// Simplest: use defaults, read API key from environment
//	gemini, err := llm.ProviderGemini.FromEnv()  // Uses gemini-2.0-flash
//	claude, err := llm.ProviderAnthropic.FromEnv()
//
//	// Full configuration
//	custom, err := llm.ProviderOpenAI.
//	    Model(llm.ModelOpenAIGPT4oMini).
//	    MaxTokens(2048).
//	    Temperature(0).
//	    FromEnv()
//
//	// With explicit API key
//	provider, err := llm.ProviderGemini.Model(llm.ModelGeminiFlash2).APIKey("...")

package llm

import (
	"fmt"
	"os"
	"strings"
)

// ProviderType represents supported LLM providers.
type ProviderType int

const (
	// ProviderOpenAI is the OpenAI provider (GPT models).
	ProviderOpenAI ProviderType = iota
	// ProviderAnthropic is the Anthropic provider (Claude models).
	ProviderAnthropic
	// ProviderDeepSeek is the DeepSeek provider.
	ProviderDeepSeek
	// ProviderGemini is the Google Gemini provider.
	ProviderGemini
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderDeepSeek:
		return "deepseek"
	case ProviderGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// EnvVar returns the environment variable name for this provider's API key.
// Gemini also accepts GOOGLE_API_KEY, see EnvVars.
func (p ProviderType) EnvVar() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// EnvVars returns every environment variable checked for the API key, in
// lookup order.
func (p ProviderType) EnvVars() []string {
	if p == ProviderGemini {
		return []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	}
	if v := p.EnvVar(); v != "" {
		return []string{v}
	}
	return nil
}

// DefaultModel returns the default model for this provider.
func (p ProviderType) DefaultModel() string {
	switch p {
	case ProviderOpenAI:
		return ModelOpenAIGPT4oMini
	case ProviderAnthropic:
		return ModelAnthropicClaudeSonnet4
	case ProviderDeepSeek:
		return ModelDeepSeekChat
	case ProviderGemini:
		return ModelGeminiFlash2
	default:
		return ""
	}
}

// ParseProviderType parses a provider from string (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(s) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "deepseek":
		return ProviderDeepSeek, nil
	case "gemini", "google":
		return ProviderGemini, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// FromEnv creates a provider with defaults, reading API key from environment.
func (p ProviderType) FromEnv() (Provider, error) {
	return NewProviderBuilder(p).FromEnv()
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// APIKey creates a provider with an explicit API key (uses defaults for everything else).
func (p ProviderType) APIKey(key string) (Provider, error) {
	return NewProviderBuilder(p).APIKey(key)
}

// ProviderBuilder is a builder for configuring LLM providers.
type ProviderBuilder struct {
	providerType ProviderType
	model        string
	maxTokens    uint32
	temperature  *float32
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{
		providerType: providerType,
	}
}

// Model sets the model to use.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// MaxTokens sets maximum tokens for responses.
func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

// Temperature sets temperature (0.0 = deterministic, 1.0 = creative).
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// FromEnv builds the provider, reading API key from environment.
func (b *ProviderBuilder) FromEnv() (Provider, error) {
	for _, envVar := range b.providerType.EnvVars() {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			return b.build(apiKey)
		}
	}
	return nil, fmt.Errorf("%s: %s environment variable not set", b.providerType, b.providerType.EnvVar())
}

// APIKey builds the provider with an explicit API key.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	return b.build(key)
}

func (b *ProviderBuilder) build(apiKey string) (Provider, error) {
	model := b.model
	if model == "" {
		model = b.providerType.DefaultModel()
	}

	if apiKey == "" {
		return nil, fmt.Errorf("%s: empty API key", b.providerType)
	}

	// Zero max tokens leaves the limit to the provider.
	maxTokens := b.maxTokens

	temperature := float32(0) // deterministic tool selection
	if b.temperature != nil {
		temperature = *b.temperature
	}

	switch b.providerType {
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey, model, maxTokens, temperature), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey, model, maxTokens, temperature), nil
	case ProviderDeepSeek:
		return NewDeepSeekProvider(apiKey, model, maxTokens, temperature), nil
	case ProviderGemini:
		return NewGeminiProvider(apiKey, model, maxTokens, temperature), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}
}

// Model identifier constants for all supported providers.

// OpenAI model identifiers
const (
	// ModelOpenAIGPT4o is GPT-4o.
	ModelOpenAIGPT4o = "gpt-4o"
	// ModelOpenAIGPT4oMini is GPT-4o-mini: cheap and good at tool calls.
	ModelOpenAIGPT4oMini = "gpt-4o-mini"
)

// Anthropic model identifiers
const (
	// ModelAnthropicClaudeSonnet4 is Claude Sonnet 4: Balanced performance.
	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"
	// ModelAnthropicClaudeHaiku4 is Claude Haiku 4: Fast and efficient.
	ModelAnthropicClaudeHaiku4 = "claude-haiku-4-20250514"
)

// DeepSeek model identifiers
const (
	// ModelDeepSeekChat is the general chat model with function calling.
	ModelDeepSeekChat = "deepseek-chat"
)

// Gemini model identifiers
const (
	// ModelGeminiFlash2 is Gemini 2.0 Flash.
	ModelGeminiFlash2 = "gemini-2.0-flash"
	// ModelGeminiFlash25 is Gemini 2.5 Flash.
	ModelGeminiFlash25 = "gemini-2.5-flash"
)
