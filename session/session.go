// Package session holds one conversation context per session id.
//
// Invariants:
// - At most one live context per session id.
// - Turns are only ever appended, never reordered or removed.
// - Calls through a Manager for one id never interleave.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/richinex/librarydesk/llm"
)

// Errors returned by backends and the manager.
var (
	ErrVersionConflict = errors.New("session was modified concurrently")
	ErrInvalidBackend  = errors.New("invalid session backend")
	ErrInvalidID       = errors.New("session id must not be empty")
)

// Context is the accumulated model conversation of one session.
// The system instruction is not stored; it is sent with every request.
type Context struct {
	ID        string            `json:"id"`
	Turns     []llm.ChatMessage `json:"turns"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Version   int64             `json:"version"` // Incremented by every successful save
}

// Append adds turns at the end of the context.
func (c *Context) Append(turns ...llm.ChatMessage) {
	c.Turns = append(c.Turns, turns...)
}

// Len returns the number of turns.
func (c *Context) Len() int {
	return len(c.Turns)
}

// clone returns a copy whose turn slice is not shared with c.
func (c *Context) clone() *Context {
	out := *c
	out.Turns = make([]llm.ChatMessage, len(c.Turns))
	copy(out.Turns, c.Turns)
	return &out
}

func newContext(id string, now time.Time) *Context {
	return &Context{ID: id, Turns: []llm.ChatMessage{}, CreatedAt: now, UpdatedAt: now}
}

// Backend stores contexts. Implementations are safe for concurrent use and
// never hand out memory shared with their own copy.
type Backend interface {
	// Load returns the context for id. ok is false when it does not exist
	// or has expired.
	Load(ctx context.Context, id string) (c *Context, ok bool, err error)

	// Save stores c if its Version matches the stored one and increments
	// c.Version. Returns ErrVersionConflict otherwise. When nothing is
	// stored under c.ID (never saved, evicted or expired) c is stored as is.
	Save(ctx context.Context, c *Context) error

	// Delete removes the context for id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// IDs lists live session ids in sorted order.
	IDs(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// BackendType selects a Backend implementation.
type BackendType string

const (
	BackendMemory BackendType = "memory"
	BackendRedis  BackendType = "redis"
)

// Default bounds for live contexts.
const (
	DefaultMaxSessions = 1000
	DefaultTTL         = 24 * time.Hour
)

// BackendOption configures NewBackend.
type BackendOption func(*backendConfig)

type backendConfig struct {
	maxSessions int
	ttl         time.Duration
	redisClient *redis.Client
	now         func() time.Time
}

// WithMaxSessions bounds the number of contexts kept by the memory backend.
func WithMaxSessions(n int) BackendOption {
	return func(c *backendConfig) { c.maxSessions = n }
}

// WithTTL sets the idle lifetime of a context.
func WithTTL(ttl time.Duration) BackendOption {
	return func(c *backendConfig) { c.ttl = ttl }
}

// WithRedisClient sets the client for the redis backend.
func WithRedisClient(client *redis.Client) BackendOption {
	return func(c *backendConfig) { c.redisClient = client }
}

// withClock overrides time for tests.
func withClock(now func() time.Time) BackendOption {
	return func(c *backendConfig) { c.now = now }
}

// NewBackend creates a Backend of the given type.
// The redis backend requires WithRedisClient.
func NewBackend(backendType BackendType, opts ...BackendOption) (Backend, error) {
	cfg := &backendConfig{
		maxSessions: DefaultMaxSessions,
		ttl:         DefaultTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxSessions <= 0 {
		cfg.maxSessions = DefaultMaxSessions
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultTTL
	}

	switch backendType {
	case BackendMemory, "":
		return newMemoryBackend(cfg.maxSessions, cfg.ttl, cfg.now), nil
	case BackendRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidBackend
		}
		return NewRedisBackend(cfg.redisClient, cfg.ttl), nil
	default:
		return nil, ErrInvalidBackend
	}
}
