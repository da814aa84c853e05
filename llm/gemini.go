// Google Gemini Provider implementation using official google.golang.org/genai SDK.
//
// Information Hiding:
// - API authentication and client creation
// - Request/response format for Gemini API
// - System instruction handling via config
// - Batching of function responses into one user turn

package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	initErr     error // Stores client initialization error for deferred reporting
}

// NewGeminiProvider creates a new Gemini provider.
// If client initialization fails, the error is stored and returned on first use.
func NewGeminiProvider(apiKey, model string, maxTokens uint32, temperature float32) *GeminiProvider {
	p := &GeminiProvider{
		model:       model,
		maxTokens:   int32(maxTokens),
		temperature: temperature,
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		p.initErr = fmt.Errorf("failed to initialize Gemini client: %w", err)
		return p
	}
	p.client = client
	return p
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Model returns the current model.
func (p *GeminiProvider) Model() string {
	return p.model
}

// ChatWithTools sends a chat completion request with tool definitions.
func (p *GeminiProvider) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error) {
	if p.initErr != nil {
		return LLMResponse{}, p.initErr
	}
	if p.client == nil {
		return LLMResponse{}, fmt.Errorf("gemini client not initialized")
	}

	contents, systemInstruction := convertToGeminiMessages(messages)

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(p.temperature),
		Tools:       convertToGeminiTools(tools),
	}
	if p.maxTokens > 0 {
		config.MaxOutputTokens = p.maxTokens
	}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	response, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	return convertFromGeminiResponse(response), nil
}

// convertFromGeminiResponse reads the first candidate's parts in order.
func convertFromGeminiResponse(response *genai.GenerateContentResponse) LLMResponse {
	var out LLMResponse
	if response == nil {
		return out
	}

	if len(response.Candidates) > 0 && response.Candidates[0].Content != nil {
		for i, part := range response.Candidates[0].Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				out.Texts = append(out.Texts, part.Text)
				out.Content += part.Text
			}
			if part.FunctionCall != nil {
				argsJSON, err := json.Marshal(part.FunctionCall.Args)
				if err != nil || part.FunctionCall.Args == nil {
					argsJSON = []byte("{}")
				}
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("%s_%d", part.FunctionCall.Name, i)
				}
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					ID:        id,
					Name:      part.FunctionCall.Name,
					Arguments: argsJSON,
				})
			}
		}
	}

	if response.UsageMetadata != nil {
		out.Usage = &TokenUsage{
			PromptTokens:     uint32(response.UsageMetadata.PromptTokenCount),
			CompletionTokens: uint32(response.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      uint32(response.UsageMetadata.TotalTokenCount),
		}
	}
	return out
}

// convertToGeminiMessages handles tool calls and tool responses.
// Consecutive tool messages become one user turn with several function
// response parts.
func convertToGeminiMessages(messages []ChatMessage) ([]*genai.Content, string) {
	var contents []*genai.Content
	var systemInstruction string

	for i, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemInstruction = msg.Content
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := decodeObject(tc.Arguments)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: tc.Name,
						Args: args,
					},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		case RoleTool:
			result := decodeObject([]byte(msg.Content))
			name := msg.Name
			if name == "" {
				name = msg.ToolCallID
			}
			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     name,
					Response: result,
				},
			}

			// Gemini expects tool results as user
			if i > 0 && messages[i-1].Role == RoleTool && len(contents) > 0 {
				last := contents[len(contents)-1]
				last.Parts = append(last.Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
		}
	}

	return contents, systemInstruction
}

// convertToGeminiTools converts tool definitions to Gemini format.
func convertToGeminiTools(tools []ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertToGeminiSchema(t.Parameters),
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertToGeminiSchema recursively converts a JSON schema map to Gemini format.
// Arrays always get an items schema since Gemini rejects arrays without one.
func convertToGeminiSchema(params map[string]any) *genai.Schema {
	schema := &genai.Schema{Type: genai.TypeObject}

	if t, ok := params["type"].(string); ok {
		schema.Type = mapToGeminiType(t)
	}
	if d, ok := params["description"].(string); ok {
		schema.Description = d
	}
	schema.Required = stringList(params["required"])
	schema.Enum = stringList(params["enum"])

	switch schema.Type {
	case genai.TypeArray:
		if items, ok := params["items"].(map[string]any); ok {
			schema.Items = convertToGeminiSchema(items)
		} else {
			schema.Items = &genai.Schema{Type: genai.TypeString}
		}
	case genai.TypeObject:
		if props, ok := params["properties"].(map[string]any); ok {
			schema.Properties = make(map[string]*genai.Schema, len(props))
			for name, prop := range props {
				if propMap, ok := prop.(map[string]any); ok {
					schema.Properties[name] = convertToGeminiSchema(propMap)
				}
			}
		}
	}

	return schema
}

// stringList accepts both []string and []any forms of a string list.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// mapToGeminiType maps JSON schema type to Gemini type.
func mapToGeminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// Verify GeminiProvider implements Provider
var _ Provider = (*GeminiProvider)(nil)
