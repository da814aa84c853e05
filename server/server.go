// Package server exposes the library desk over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinex/librarydesk/agent"
	"github.com/richinex/librarydesk/internal/metrics"
	"github.com/richinex/librarydesk/model"
	"github.com/richinex/librarydesk/storage"
)

// DefaultSessionID is used when a chat request names no session.
const DefaultSessionID = "default"

// Responder answers one user message for a session.
type Responder interface {
	Respond(ctx context.Context, sessionID, text string) agent.Reply
}

// Sessions creates, lists and tears down live conversation contexts.
type Sessions interface {
	Create(ctx context.Context) (string, error)
	Close(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// Store is the persistence the HTTP surface reads and writes.
type Store interface {
	storage.TranscriptStorage
	storage.ToolCallStorage
	ListOrders(ctx context.Context) ([]model.OrderSummary, error)
	OrderDetails(ctx context.Context, orderID int64) (model.OrderDetails, error)
}

var _ Store = (*storage.Store)(nil)

// Options configures the server.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
}

// Server is the HTTP boundary.
type Server struct {
	options  Options
	agent    Responder
	sessions Sessions
	store    Store
	logger   zerolog.Logger
	handler  http.Handler
}

// New creates a server. The agent, sessions and store are required.
func New(options Options, responder Responder, sessions Sessions, store Store) (*Server, error) {
	if responder == nil {
		return nil, errors.New("agent is required")
	}
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if options.Addr == "" {
		options.Addr = "0.0.0.0:5000"
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		options:  options,
		agent:    responder,
		sessions: sessions,
		store:    store,
		logger:   options.Logger,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleMessages)
	mux.HandleFunc("GET /api/sessions/{id}/tool-calls", s.handleToolCalls)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/orders/{id}", s.handleOrderDetails)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.options.Metrics != nil {
		mux.Handle("GET /metrics", s.options.Metrics.Handler())
	}

	return requestID(s.logRequests(cors(mux)))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.options.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting HTTP server")
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	<-errCh
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
