// Package calllog records tool invocations off the request path.
//
// Invariants:
// - Record never blocks and never fails the caller.
// - Records reach the writer in the order Record was called.
// - A full queue drops the record with a warning.
//
// Usage:
//
//	sink := calllog.NewAsync(store, 256, calllog.WithLogger(log))
//	defer sink.Close(ctx)
//	sink.Record(model.ToolCallRecord{SessionID: "s1", ToolName: "find_books"})
package calllog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinex/librarydesk/internal/metrics"
	"github.com/richinex/librarydesk/model"
)

// DefaultBuffer is the queue capacity used when none is configured.
const DefaultBuffer = 256

// defaultWriteTimeout bounds a single writer call.
const defaultWriteTimeout = 5 * time.Second

// ErrClosed is returned by Close when the sink was already closed.
var ErrClosed = errors.New("call log closed")

// Sink accepts tool call records. Implementations must not block.
type Sink interface {
	Record(rec model.ToolCallRecord)
}

// Writer persists a record. storage.Store satisfies it.
type Writer interface {
	SaveToolCall(ctx context.Context, record model.ToolCallRecord) error
}

// Option configures an Async sink.
type Option func(*Async)

// WithLogger sets the logger used for drop and write warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Async) { a.logger = logger }
}

// WithMetrics counts dropped records.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Async) { a.metrics = m }
}

// WithWriteTimeout bounds each writer call.
func WithWriteTimeout(d time.Duration) Option {
	return func(a *Async) { a.writeTimeout = d }
}

// Async is a Sink backed by a bounded queue and one writer goroutine.
type Async struct {
	writer       Writer
	queue        chan model.ToolCallRecord
	done         chan struct{}
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the writer goroutine. buffer <= 0 uses DefaultBuffer.
func NewAsync(writer Writer, buffer int, opts ...Option) *Async {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	a := &Async{
		writer:       writer,
		queue:        make(chan model.ToolCallRecord, buffer),
		done:         make(chan struct{}),
		logger:       zerolog.Nop(),
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}

	go a.run()
	return a
}

// Record enqueues rec without blocking.
func (a *Async) Record(rec model.ToolCallRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop(rec, "closed")
		return
	}

	select {
	case a.queue <- rec:
	default:
		a.drop(rec, "queue full")
	}
}

func (a *Async) drop(rec model.ToolCallRecord, reason string) {
	a.metrics.CallLogDropped()
	a.logger.Warn().
		Str("session_id", rec.SessionID).
		Str("tool", rec.ToolName).
		Str("reason", reason).
		Msg("dropping tool call record")
}

func (a *Async) run() {
	defer close(a.done)

	for rec := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
		err := a.writer.SaveToolCall(ctx, rec)
		cancel()
		if err != nil {
			a.logger.Warn().
				Err(err).
				Str("session_id", rec.SessionID).
				Str("tool", rec.ToolName).
				Msg("failed to save tool call")
		}
	}
}

// Close stops accepting records and waits until the queue is drained or
// ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports how many records wait in the queue.
func (a *Async) Pending() int {
	return len(a.queue)
}

// Discard drops every record.
type Discard struct{}

// Record does nothing.
func (Discard) Record(model.ToolCallRecord) {}

// Memory keeps records in memory.
type Memory struct {
	mu      sync.Mutex
	records []model.ToolCallRecord
}

// Record appends rec.
func (m *Memory) Record(rec model.ToolCallRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

// Records returns a copy of everything recorded so far.
func (m *Memory) Records() []model.ToolCallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ToolCallRecord, len(m.records))
	copy(out, m.records)
	return out
}

var (
	_ Sink = (*Async)(nil)
	_ Sink = Discard{}
	_ Sink = (*Memory)(nil)
)
