// Tool calling loop implementation.
//
// Information Hiding:
// - Round bookkeeping hidden
// - Session locking and persistence hidden
// - Tool result batching hidden

package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinex/librarydesk/internal/metrics"
	"github.com/richinex/librarydesk/llm"
	"github.com/richinex/librarydesk/session"
	"github.com/richinex/librarydesk/tools"
)

// Agent answers user messages, calling library tools as the model requests.
type Agent struct {
	config      Config
	client      *llm.Client
	executor    *tools.Executor
	sessions    *session.Manager
	definitions []llm.ToolDefinition
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

// Sessions returns the session manager the agent works on.
func (a *Agent) Sessions() *session.Manager {
	return a.sessions
}

// Respond runs one user message through the loop for sessionID.
// It never returns an error and never panics: failures come back as a
// StateError reply whose Text is "Agent Error: <message>\n<trace>".
func (a *Agent) Respond(ctx context.Context, sessionID, text string) (reply Reply) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			reply = failure(reply, sessionID, fmt.Errorf("panic: %v", r), debug.Stack())
		}
		a.metrics.ObserveResponse(string(reply.State), reply.Rounds)

		event := a.logger.Info()
		if reply.IsError() {
			event = a.logger.Warn().Err(reply.Err)
		}
		event.
			Str("session_id", sessionID).
			Str("state", string(reply.State)).
			Int("rounds", reply.Rounds).
			Int("tool_calls", len(reply.ToolCalls)).
			Dur("duration", time.Since(start)).
			Msg("Agent responded")
	}()

	var out Reply
	err := a.sessions.With(ctx, sessionID, func(c *session.Context) error {
		var err error
		out, err = a.run(ctx, c, text)
		return err
	})
	if err != nil {
		return failure(out, sessionID, err, debug.Stack())
	}
	return out
}

// run drives the rounds on c. On error c must not be saved.
func (a *Agent) run(ctx context.Context, c *session.Context, text string) (Reply, error) {
	reply := Reply{SessionID: c.ID}

	c.Append(llm.UserMessage(text))
	resp, err := a.complete(ctx, c, &reply)
	if err != nil {
		return reply, err
	}

	for iteration := 0; iteration < a.config.MaxIterations; iteration++ {
		if len(resp.ToolCalls) == 0 {
			appendAssistant(c, resp)
			if len(resp.Texts) > 0 {
				reply.Text = joinTexts(resp.Texts)
				reply.State = StateText
				return reply, nil
			}
			reply.Text = NoResponseText
			reply.State = StateEmpty
			return reply, nil
		}

		// Text next to tool calls is not part of the answer.
		c.Append(llm.AssistantMessage(resp))
		for _, call := range resp.ToolCalls {
			env := a.executor.Execute(ctx, call.Name, call.Arguments, c.ID)
			content := env.JSON()
			c.Append(llm.ToolMessage(call, content))
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{
				Name:       call.Name,
				InputSize:  len(call.Arguments),
				OutputSize: len(content),
				DurationMs: uint64(env.Duration.Milliseconds()),
				Success:    env.Status == tools.StatusOK,
			})
		}

		if resp, err = a.complete(ctx, c, &reply); err != nil {
			return reply, err
		}
	}

	// Budget exhausted. Tool calls left unanswered are not kept in the
	// context so the next request is well formed for every provider.
	resp.ToolCalls = nil
	appendAssistant(c, resp)

	reply.State = StateBudgetExhausted
	reply.Text = joinTexts(resp.Texts)
	if reply.Text == "" {
		reply.Text = NoResponseText
	}
	return reply, nil
}

// complete sends the system instruction and the session turns to the model.
func (a *Agent) complete(ctx context.Context, c *session.Context, reply *Reply) (llm.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.LLMResponse{}, fmt.Errorf("execution cancelled: %w", err)
	}

	messages := make([]llm.ChatMessage, 0, c.Len()+1)
	messages = append(messages, llm.SystemMessage(a.config.SystemInstruction))
	messages = append(messages, c.Turns...)

	resp, err := a.client.Complete(ctx, messages, a.definitions)
	reply.Rounds++
	if err != nil {
		return llm.LLMResponse{}, err
	}
	reply.Usage.Add(resp.Usage)

	a.logger.Debug().
		Str("session_id", c.ID).
		Int("round", reply.Rounds).
		Int("texts", len(resp.Texts)).
		Int("tool_calls", len(resp.ToolCalls)).
		Msg("Model responded")
	return resp, nil
}

// appendAssistant records a model turn unless it carries nothing.
func appendAssistant(c *session.Context, resp llm.LLMResponse) {
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return
	}
	c.Append(llm.AssistantMessage(resp))
}

func joinTexts(texts []string) string {
	return strings.TrimSpace(strings.Join(texts, "\n"))
}

// failure keeps the round and tool counts of partial.
func failure(partial Reply, sessionID string, err error, trace []byte) Reply {
	partial.Text = fmt.Sprintf("Agent Error: %s\n%s", err.Error(), trace)
	partial.SessionID = sessionID
	partial.State = StateError
	partial.Err = err
	return partial
}
