package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/richinex/librarydesk/internal/metrics"
)

// keyLock is a one-slot channel so waiters can give up on ctx.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// Manager serializes work per session id over a Backend.
type Manager struct {
	backend Backend
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithManagerMetrics reports the live session count.
func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a manager over backend.
func NewManager(backend Backend, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend: backend,
		logger:  zerolog.Nop(),
		now:     time.Now,
		locks:   make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lock acquires the lock for id, or returns ctx.Err() if ctx ends first.
func (m *Manager) lock(ctx context.Context, id string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			m.release(id, l)
		}, nil
	case <-ctx.Done():
		m.release(id, l)
		return nil, ctx.Err()
	}
}

func (m *Manager) release(id string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}

// load returns the stored context for id or a fresh, unsaved one.
func (m *Manager) load(ctx context.Context, id string) (*Context, error) {
	c, ok, err := m.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		return c, nil
	}
	return newContext(id, m.now()), nil
}

// GetOrCreate returns the context for id, creating and storing an empty one
// on first use.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Context, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Version == 0 {
		if err := m.backend.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to create session %s: %w", id, err)
		}
		m.logger.Debug().Str("session_id", id).Msg("Session created")
		m.reportCount(ctx)
	}
	return c, nil
}

// With runs fn on the context for id while holding the id's lock, then
// saves it. When fn fails the context is not saved.
func (m *Manager) With(ctx context.Context, id string, fn func(*Context) error) error {
	if id == "" {
		return ErrInvalidID
	}
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	c, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	created := c.Version == 0

	if err := fn(c); err != nil {
		return err
	}

	c.UpdatedAt = m.now()
	// The caller's ctx may have expired during fn; the save must still land.
	if err := m.backend.Save(context.WithoutCancel(ctx), c); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	if created {
		m.logger.Debug().Str("session_id", id).Msg("Session created")
		m.reportCount(ctx)
	}
	return nil
}

// Create stores a new empty context under a fresh id.
func (m *Manager) Create(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if _, err := m.GetOrCreate(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// Close tears down the context for id waiting for any call in flight.
func (m *Manager) Close(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.backend.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Debug().Str("session_id", id).Msg("Session closed")
	m.reportCount(ctx)
	return nil
}

// List returns live session ids in sorted order.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.backend.IDs(ctx)
}

// Shutdown closes the backend.
func (m *Manager) Shutdown() error {
	if err := m.backend.Close(); err != nil {
		return fmt.Errorf("failed to close session backend: %w", err)
	}
	return nil
}

func (m *Manager) reportCount(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	ids, err := m.backend.IDs(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to count sessions")
		return
	}
	m.metrics.SetSessionsActive(len(ids))
}
