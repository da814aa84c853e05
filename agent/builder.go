package agent

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/richinex/librarydesk/internal/metrics"
	"github.com/richinex/librarydesk/llm"
	"github.com/richinex/librarydesk/session"
	"github.com/richinex/librarydesk/tools"
)

// Builder provides fluent configuration for creating agents.
// Usage: agent.NewBuilder(client, executor, sessions).MaxIterations(5).Build()
type Builder struct {
	client   *llm.Client
	executor *tools.Executor
	sessions *session.Manager
	config   Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewBuilder creates a builder with DefaultConfig.
func NewBuilder(client *llm.Client, executor *tools.Executor, sessions *session.Manager) *Builder {
	return &Builder{
		client:   client,
		executor: executor,
		sessions: sessions,
		config:   DefaultConfig(),
		logger:   zerolog.Nop(),
	}
}

// SystemInstruction replaces the system instruction.
func (b *Builder) SystemInstruction(text string) *Builder {
	b.config.SystemInstruction = text
	return b
}

// MaxIterations sets the tool round cap.
func (b *Builder) MaxIterations(n int) *Builder {
	b.config.MaxIterations = n
	return b
}

// Logger sets the agent logger.
func (b *Builder) Logger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// Metrics records response states and round counts.
func (b *Builder) Metrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// Build creates the agent.
func (b *Builder) Build() (*Agent, error) {
	switch {
	case b.client == nil:
		return nil, errors.New("agent requires an llm client")
	case b.executor == nil:
		return nil, errors.New("agent requires a tool executor")
	case b.sessions == nil:
		return nil, errors.New("agent requires a session manager")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	return &Agent{
		config:      b.config,
		client:      b.client,
		executor:    b.executor,
		sessions:    b.sessions,
		definitions: b.executor.Registry().Definitions(),
		logger:      b.logger,
		metrics:     b.metrics,
	}, nil
}
