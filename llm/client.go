// LLMClient - wrapper around providers that bounds every round.

package llm

import (
	"context"
	"fmt"
	"time"
)

// DefaultRoundTimeout bounds a single model call when none is configured.
const DefaultRoundTimeout = 60 * time.Second

// Client wraps a Provider and applies a deadline to every call, so a stalled
// upstream cannot hold a session lock forever.
type Client struct {
	provider     Provider
	roundTimeout time.Duration
}

// NewClient creates a new LLM client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider, roundTimeout: DefaultRoundTimeout}
}

// WithRoundTimeout overrides the per-call deadline. Zero disables it.
func (c *Client) WithRoundTimeout(d time.Duration) *Client {
	c.roundTimeout = d
	return c
}

// Complete sends one round to the provider.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error) {
	if c.roundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.roundTimeout)
		defer cancel()
	}

	resp, err := c.provider.ChatWithTools(ctx, messages, tools)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("%s: %w", c.provider.Name(), err)
	}
	return resp, nil
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}
