// Package agent runs the library desk conversation loop.
//
// Contains the reply types handed back to callers.
package agent

import (
	"github.com/richinex/librarydesk/llm"
	"github.com/richinex/librarydesk/model"
)

// State is the terminal state of one Respond call.
type State string

const (
	// StateText means the model answered with text and no tool calls.
	StateText State = "text"
	// StateBudgetExhausted means the round cap was reached.
	StateBudgetExhausted State = "budget_exhausted"
	// StateEmpty means the model returned neither text nor tool calls.
	StateEmpty State = "empty"
	// StateError means the loop failed and Text carries the error report.
	StateError State = "error"
)

// NoResponseText is returned when the last response carries no text.
const NoResponseText = "No response generated."

// ToolCall is an alias for model.ToolCall for tool call metrics.
type ToolCall = model.ToolCall

// Reply is the outcome of one Respond call. Text is always set.
type Reply struct {
	Text      string
	SessionID string
	State     State
	Rounds    int // Model calls made
	ToolCalls []ToolCall
	Usage     llm.TokenUsage
	Err       error // Set when State is StateError
}

// IsError reports whether the loop failed.
func (r Reply) IsError() bool {
	return r.State == StateError
}
