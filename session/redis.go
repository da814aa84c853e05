package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for sessions
	redisKeyPrefix = "librarydesk:session:"
	// Set of known session ids, used for listing
	redisIndexKey = "librarydesk:sessions"
)

// RedisBackend stores each context as JSON under its own key with an idle
// TTL, refreshed on every read and write.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend creates a redis backend over client.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBackend{client: client, ttl: ttl}
}

// DialRedis parses a redis:// URL and checks the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return client, nil
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context, id string) (*Context, bool, error) {
	key := b.key(id)
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired keys leave their id behind in the index.
		_ = b.client.SRem(ctx, redisIndexKey, id).Err()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var c Context
	if err := json.Unmarshal(val, &c); err != nil {
		return nil, false, fmt.Errorf("corrupt session %s: %w", id, err)
	}

	// Refresh TTL on read; a failed refresh only shortens the lifetime.
	_ = b.client.Expire(ctx, key, b.ttl).Err()

	return &c, true, nil
}

// Save implements Backend using WATCH/MULTI/EXEC for the version check.
func (b *RedisBackend) Save(ctx context.Context, c *Context) error {
	if c.ID == "" {
		return ErrInvalidID
	}
	key := b.key(c.ID)

	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// Expired while held; stored again as is.
		case err != nil:
			return err
		default:
			var current Context
			if err := json.Unmarshal(val, &current); err != nil {
				return fmt.Errorf("corrupt session %s: %w", c.ID, err)
			}
			if current.Version != c.Version {
				return ErrVersionConflict
			}
		}

		next := *c
		next.Version++
		data, err := json.Marshal(&next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, b.ttl)
			pipe.SAdd(ctx, redisIndexKey, c.ID)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to save session %s: %w", c.ID, err)
	}

	c.Version++
	return nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.key(id))
		pipe.SRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// IDs implements Backend. Ids whose key has expired are pruned from the index.
func (b *RedisBackend) IDs(ctx context.Context) ([]string, error) {
	members, err := b.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	pipe := b.client.Pipeline()
	checks := make([]*redis.IntCmd, len(members))
	for i, id := range members {
		checks[i] = pipe.Exists(ctx, b.key(id))
	}
	if len(members) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to check sessions: %w", err)
		}
	}

	ids := make([]string, 0, len(members))
	var stale []any
	for i, id := range members {
		if checks[i].Val() == 0 {
			stale = append(stale, id)
			continue
		}
		ids = append(ids, id)
	}
	if len(stale) > 0 {
		_ = b.client.SRem(ctx, redisIndexKey, stale...).Err()
	}

	sort.Strings(ids)
	return ids, nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// key constructs the Redis key for a session ID.
func (b *RedisBackend) key(id string) string {
	return redisKeyPrefix + id
}

var _ Backend = (*RedisBackend)(nil)
