// Tool Executor.
//
// Information Hiding:
// - Result normalization rules hidden
// - Panic recovery and trace capture hidden
// - Call log and metrics side channels hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinex/librarydesk/calllog"
	"github.com/richinex/librarydesk/internal/metrics"
	"github.com/richinex/librarydesk/model"
)

// Status classifies an execution outcome.
type Status string

const (
	StatusOK          Status = "ok"
	StatusError       Status = "error"
	StatusUnknownTool Status = "unknown_tool"
)

// Envelope is the normalized function response returned to the model.
// Response holds exactly one of the shapes {items, count}, a mapping,
// {result} or {error}.
type Envelope struct {
	Name     string
	Response map[string]any
	Status   Status
	Duration time.Duration
}

// JSON encodes the response for the tool turn.
func (e Envelope) JSON() string {
	data, err := json.Marshal(e.Response)
	if err != nil {
		data, _ = json.Marshal(map[string]any{"error": fmt.Sprintf("failed to encode tool result: %v", err)})
	}
	return string(data)
}

// Executor runs tools by name and turns every outcome into an Envelope.
type Executor struct {
	registry *Registry
	sink     calllog.Sink
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	traces   bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTraces controls whether failure envelopes carry a trace: the stack
// for a panic, the wrap chain for a returned error.
// Traces are on by default.
func WithTraces(enabled bool) ExecutorOption {
	return func(e *Executor) { e.traces = enabled }
}

// WithLogger sets the executor logger.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics records execution counts and durations.
func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an executor over registry. A nil sink discards records.
func NewExecutor(registry *Registry, sink calllog.Sink, opts ...ExecutorOption) *Executor {
	if sink == nil {
		sink = calllog.Discard{}
	}
	e := &Executor{
		registry: registry,
		sink:     sink,
		logger:   zerolog.Nop(),
		traces:   true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor dispatches to.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs the named tool. It never returns an error: unknown tools,
// tool errors and panics all become error envelopes.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage, sessionID string) Envelope {
	tool, ok := e.registry.Lookup(name)
	if !ok {
		e.logger.Warn().Str("tool", name).Str("session_id", sessionID).Msg("unknown tool requested")
		e.metrics.ObserveTool(name, string(StatusUnknownTool), 0)
		return Envelope{
			Name:     name,
			Response: map[string]any{"error": "Unknown tool: " + name},
			Status:   StatusUnknownTool,
		}
	}

	args = normalizeArgs(args)
	start := time.Now()
	out := invoke(ctx, name, tool, args)
	duration := time.Since(start)

	env := Envelope{Name: name, Duration: duration}
	record := model.ToolCallRecord{
		SessionID: sessionID,
		ToolName:  name,
		Arguments: argumentMap(args),
		Timestamp: start,
	}

	if out.err != nil {
		msg := out.err.Error()
		if e.traces {
			msg += "\n" + string(out.trace)
		}
		env.Response = map[string]any{"error": msg}
		env.Status = StatusError
		record.Result = map[string]any{"error": out.err.Error()}

		e.logger.Debug().
			Err(out.err).
			Str("tool", name).
			Str("session_id", sessionID).
			Dur("duration", duration).
			Msg("tool failed")
	} else {
		value := roundTrip(out.result)
		env.Response = normalize(value)
		env.Status = StatusOK
		record.Result = logResult(value)

		e.logger.Debug().
			Str("tool", name).
			Str("session_id", sessionID).
			Dur("duration", duration).
			Msg("tool succeeded")
	}

	e.sink.Record(record)
	e.metrics.ObserveTool(name, string(env.Status), duration)
	return env
}

type outcome struct {
	result any
	err    error
	trace  []byte
}

// invoke calls the tool, converting a panic into an error.
// A panic's trace is the goroutine stack taken while unwinding, so it
// includes the panicking frame. A returned error has no stack of its own;
// its trace is the wrap chain built up inside the tool.
func invoke(ctx context.Context, name string, tool Tool, args json.RawMessage) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("panic: %v", r), trace: debug.Stack()}
		}
	}()

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return outcome{err: err, trace: errorChain(name, err)}
	}
	return outcome{result: result}
}

// errorChain renders err and every error it wraps, outermost first.
func errorChain(name string, err error) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "error returned by tool %s:", name)
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "\n  %T: %s", e, e.Error())
	}
	return []byte(b.String())
}

// roundTrip converts a typed Go result into its generic JSON form, so that
// slices of structs become []any and structs become map[string]any.
// Values that cannot be encoded are kept as their string form.
func roundTrip(result any) any {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return string(data)
	}
	return value
}

// normalize applies the envelope rules in order: list, then mapping, then
// stringified fallback.
func normalize(value any) map[string]any {
	switch v := value.(type) {
	case []any:
		return map[string]any{"items": v, "count": len(v)}
	case map[string]any:
		return v
	case string:
		return map[string]any{"result": v}
	default:
		return map[string]any{"result": stringify(v)}
	}
}

// logResult is the call log form: a mapping as-is, anything else wrapped.
func logResult(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": value}
}

func stringify(v any) string {
	if v == nil {
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// argumentMap decodes arguments for the call log. Arguments that are not a
// JSON object are logged as an empty mapping.
func argumentMap(args json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}
