package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func batchTranscript() []ChatMessage {
	calls := []ToolCall{
		{ID: "c1", Name: "find_books", Arguments: []byte(`{"q":"Clean","by":"title"}`)},
		{ID: "c2", Name: "inventory_summary", Arguments: []byte(`{}`)},
	}
	return []ChatMessage{
		SystemMessage("be helpful"),
		UserMessage("hi"),
		{Role: RoleAssistant, ToolCalls: calls},
		ToolMessage(calls[0], `{"name":"find_books","status":"ok","result":{"items":[],"count":0}}`),
		ToolMessage(calls[1], `{"name":"inventory_summary","status":"ok","result":{"items":[],"count":0}}`),
	}
}

func TestGeminiMergesToolBatch(t *testing.T) {
	contents, system := convertToGeminiMessages(batchTranscript())

	assert.Equal(t, "be helpful", system)
	require.Len(t, contents, 3)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.Len(t, contents[1].Parts, 2)

	batch := contents[2]
	assert.Equal(t, genai.RoleUser, batch.Role)
	require.Len(t, batch.Parts, 2)
	assert.Equal(t, "find_books", batch.Parts[0].FunctionResponse.Name)
	assert.Equal(t, "inventory_summary", batch.Parts[1].FunctionResponse.Name)
	assert.Equal(t, "ok", batch.Parts[0].FunctionResponse.Response["status"])
}

func TestGeminiSchemaKeepsIntegersAndEnums(t *testing.T) {
	schema := convertToGeminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"by":          map[string]any{"type": "string", "enum": []string{"title", "author"}},
			"customer_id": map[string]any{"type": "integer"},
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":       "object",
					"properties": map[string]any{"qty": map[string]any{"type": "integer"}},
					"required":   []any{"qty"},
				},
			},
		},
		"required": []string{"by"},
	})

	assert.Equal(t, []string{"by"}, schema.Required)
	assert.Equal(t, []string{"title", "author"}, schema.Properties["by"].Enum)
	assert.Equal(t, genai.TypeInteger, schema.Properties["customer_id"].Type)
	items := schema.Properties["items"].Items
	require.NotNil(t, items)
	assert.Equal(t, genai.TypeObject, items.Type)
	assert.Equal(t, []string{"qty"}, items.Required)
}

func TestGeminiResponsePartsInOrder(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Looking that up."},
				{FunctionCall: &genai.FunctionCall{Name: "find_books", Args: map[string]any{"q": "Clean"}}},
				{FunctionCall: &genai.FunctionCall{Name: "inventory_summary"}},
			}},
		}},
	}

	out := convertFromGeminiResponse(resp)
	assert.Equal(t, []string{"Looking that up."}, out.Texts)
	require.Len(t, out.ToolCalls, 2)
	assert.NotEqual(t, out.ToolCalls[0].ID, out.ToolCalls[1].ID)
	assert.JSONEq(t, `{"q":"Clean"}`, string(out.ToolCalls[0].Arguments))
	assert.JSONEq(t, `{}`, string(out.ToolCalls[1].Arguments))
}

func TestGeminiEmptyCandidates(t *testing.T) {
	out := convertFromGeminiResponse(&genai.GenerateContentResponse{})
	assert.Empty(t, out.Texts)
	assert.Empty(t, out.ToolCalls)
}

func TestAnthropicMergesToolBatch(t *testing.T) {
	msgs, system := convertToAnthropicMessages(batchTranscript())

	assert.Equal(t, "be helpful", system)
	require.Len(t, msgs, 3)
	last := msgs[2]
	require.Len(t, last.Content, 2)
	require.NotNil(t, last.Content[0].OfToolResult)
	assert.Equal(t, "c1", last.Content[0].OfToolResult.ToolUseID)
	assert.Equal(t, "c2", last.Content[1].OfToolResult.ToolUseID)
}

func TestMalformedStoredPayloadsAreKept(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "find_books", Arguments: []byte(`{"q":"Clean"`)}
	empty := ToolCall{ID: "c2", Name: "inventory_summary"}
	transcript := []ChatMessage{
		UserMessage("hi"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{call, empty}},
		ToolMessage(call, `[1,2]`),
		ToolMessage(empty, `not json`),
	}

	contents, _ := convertToGeminiMessages(transcript)
	require.Len(t, contents, 3)
	parts := contents[1].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, map[string]any{"result": `{"q":"Clean"`}, parts[0].FunctionCall.Args)
	assert.Equal(t, map[string]any{}, parts[1].FunctionCall.Args)
	responses := contents[2].Parts
	require.Len(t, responses, 2)
	assert.Equal(t, map[string]any{"result": `[1,2]`}, responses[0].FunctionResponse.Response)
	assert.Equal(t, map[string]any{"result": "not json"}, responses[1].FunctionResponse.Response)

	msgs, _ := convertToAnthropicMessages(transcript)
	require.Len(t, msgs, 3)
	require.NotNil(t, msgs[1].Content[0].OfToolUse)
	assert.Equal(t, map[string]any{"result": `{"q":"Clean"`}, msgs[1].Content[0].OfToolUse.Input)
	assert.Equal(t, map[string]any{}, msgs[1].Content[1].OfToolUse.Input)
}

func TestDecodeObject(t *testing.T) {
	assert.Equal(t, map[string]any{}, decodeObject(nil))
	assert.Equal(t, map[string]any{}, decodeObject([]byte("null")))
	assert.Equal(t, map[string]any{"a": 1.0}, decodeObject([]byte(`{"a":1}`)))
	assert.Equal(t, map[string]any{"result": `"x"`}, decodeObject([]byte(`"x"`)))
}

func TestOpenAIKeepsOneMessagePerToolResult(t *testing.T) {
	msgs := convertToOpenAIMessages(batchTranscript())

	require.Len(t, msgs, 5)
	require.Len(t, msgs[2].ToolCalls, 2)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
	assert.Equal(t, "c2", msgs[4].ToolCallID)
	assert.Empty(t, msgs[1].ToolCallID)
}

func TestOpenAITemperatureZeroIsSent(t *testing.T) {
	assert.NotZero(t, openAITemperature(0))
	assert.InDelta(t, 0.5, openAITemperature(0.5), 1e-6)
}

func TestParseProviderType(t *testing.T) {
	p, err := ParseProviderType("Google")
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, p)
	assert.Equal(t, ModelGeminiFlash2, p.DefaultModel())
	assert.Equal(t, []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}, p.EnvVars())

	_, err = ParseProviderType("mystery")
	require.Error(t, err)
}

func TestFromEnvFallsBackToGoogleKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "g-key")

	provider, err := ProviderGemini.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "gemini", provider.Name())
	assert.Equal(t, ModelGeminiFlash2, provider.Model())
}

func TestFromEnvMissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := ProviderAnthropic.FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

// TestGeminiInitErrorPreserved verifies Gemini returns initialization errors
func TestGeminiInitErrorPreserved(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	provider := NewGeminiProvider("", ModelGeminiFlash2, 100, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := provider.ChatWithTools(ctx, []ChatMessage{UserMessage("test")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize")
}

type slowProvider struct{}

func (slowProvider) Name() string  { return "slow" }
func (slowProvider) Model() string { return "slow-1" }
func (slowProvider) ChatWithTools(ctx context.Context, _ []ChatMessage, _ []ToolDefinition) (LLMResponse, error) {
	<-ctx.Done()
	return LLMResponse{}, ctx.Err()
}

func TestClientAppliesRoundTimeout(t *testing.T) {
	client := NewClient(slowProvider{}).WithRoundTimeout(20 * time.Millisecond)

	_, err := client.Complete(context.Background(), nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "slow:")
}
