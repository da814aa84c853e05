// Process wiring shared by the CLI commands.
//
// Information Hiding:
// - Construction order of store, call log, sessions, tools and agent hidden
// - Shutdown order hidden

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/richinex/librarydesk/agent"
	"github.com/richinex/librarydesk/calllog"
	"github.com/richinex/librarydesk/config"
	"github.com/richinex/librarydesk/internal/metrics"
	"github.com/richinex/librarydesk/llm"
	"github.com/richinex/librarydesk/session"
	"github.com/richinex/librarydesk/storage"
	"github.com/richinex/librarydesk/tools"
)

// App holds the wired components of one process.
type App struct {
	Settings config.Settings
	Store    *storage.Store
	CallLog  *calllog.Async
	Sessions *session.Manager
	Executor *tools.Executor
	Agent    *agent.Agent
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// NewApp opens the store and builds the agent around provider.
// A nil provider is built from settings.
func NewApp(ctx context.Context, settings config.Settings, provider llm.Provider, logger zerolog.Logger) (*App, error) {
	if provider == nil {
		var err error
		if provider, err = settings.NewProvider(); err != nil {
			return nil, err
		}
	}

	store, err := storage.OpenSqlite(settings.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics()

	backend, err := newSessionBackend(ctx, settings.Session)
	if err != nil {
		store.Close()
		return nil, err
	}
	sessions := session.NewManager(backend,
		session.WithManagerLogger(logger.With().Str("component", "session").Logger()),
		session.WithManagerMetrics(m),
	)

	sink := calllog.NewAsync(store, settings.CallLog.Buffer,
		calllog.WithLogger(logger.With().Str("component", "calllog").Logger()),
		calllog.WithMetrics(m),
	)

	registry, err := tools.NewLibraryRegistry(store, tools.Config{LowStockThreshold: settings.Tools.LowStockThreshold})
	if err != nil {
		_ = sink.Close(ctx)
		_ = sessions.Shutdown()
		store.Close()
		return nil, err
	}
	executor := tools.NewExecutor(registry, sink,
		tools.WithTraces(settings.Tools.ErrorTraces),
		tools.WithLogger(logger.With().Str("component", "tools").Logger()),
		tools.WithMetrics(m),
	)

	client := llm.NewClient(provider).WithRoundTimeout(settings.Agent.RoundTimeout)
	a, err := agent.NewBuilder(client, executor, sessions).
		MaxIterations(settings.Agent.MaxIterations).
		Logger(logger.With().Str("component", "agent").Logger()).
		Metrics(m).
		Build()
	if err != nil {
		_ = sink.Close(ctx)
		_ = sessions.Shutdown()
		store.Close()
		return nil, err
	}

	logger.Info().
		Str("provider", provider.Name()).
		Str("model", provider.Model()).
		Str("database", settings.Storage.DatabasePath).
		Msg("Library desk ready")

	return &App{
		Settings: settings,
		Store:    store,
		CallLog:  sink,
		Sessions: sessions,
		Executor: executor,
		Agent:    a,
		Metrics:  m,
		Logger:   logger,
	}, nil
}

func newSessionBackend(ctx context.Context, cfg config.SessionConfig) (session.Backend, error) {
	if cfg.RedisURL == "" {
		return session.NewBackend(session.BackendMemory,
			session.WithMaxSessions(cfg.MaxSessions),
			session.WithTTL(cfg.TTL),
		)
	}
	client, err := session.DialRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return session.NewBackend(session.BackendRedis,
		session.WithRedisClient(client),
		session.WithTTL(cfg.TTL),
	)
}

// Close drains the call log, then releases sessions and the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.CallLog.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("call log: %w", err))
	}
	if err := a.Sessions.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}
