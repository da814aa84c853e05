package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/richinex/librarydesk/internal/metrics"
	"github.com/richinex/librarydesk/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(BackendMemory)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = NewBackend("")
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	_, err = NewBackend(BackendRedis)
	assert.ErrorIs(t, err, ErrInvalidBackend)

	_, err = NewBackend("etcd")
	assert.ErrorIs(t, err, ErrInvalidBackend)
}

func TestMemorySaveAndLoadReturnCopies(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(10, time.Hour)

	c := newContext("s1", time.Now())
	c.Append(llm.UserMessage("hi"))
	require.NoError(t, b.Save(ctx, c))
	assert.Equal(t, int64(1), c.Version)

	c.Append(llm.UserMessage("not saved"))

	loaded, ok, err := b.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, loaded.Len())

	loaded.Turns[0].Content = "mutated"
	again, _, _ := b.Load(ctx, "s1")
	assert.Equal(t, "hi", again.Turns[0].Content)
}

func TestMemoryVersionConflict(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(10, time.Hour)

	require.NoError(t, b.Save(ctx, newContext("s1", time.Now())))

	a, _, _ := b.Load(ctx, "s1")
	other, _, _ := b.Load(ctx, "s1")
	require.NoError(t, b.Save(ctx, a))
	assert.ErrorIs(t, b.Save(ctx, other), ErrVersionConflict)

	assert.ErrorIs(t, b.Save(ctx, newContext("s1", time.Now())), ErrVersionConflict)
	assert.ErrorIs(t, b.Save(ctx, newContext("", time.Now())), ErrInvalidID)
}

func TestMemorySaveAfterEviction(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(1, time.Hour)

	a := newContext("a", time.Now())
	require.NoError(t, b.Save(ctx, a))
	held, _, _ := b.Load(ctx, "a")

	require.NoError(t, b.Save(ctx, newContext("b", time.Now())))
	_, ok, _ := b.Load(ctx, "a")
	require.False(t, ok, "a evicted")

	held.Append(llm.UserMessage("late"))
	require.NoError(t, b.Save(ctx, held))
	assert.Equal(t, int64(2), held.Version)

	loaded, ok, err := b.Load(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "late", loaded.Turns[0].Content)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(2, time.Hour)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, b.Save(ctx, newContext(id, time.Now())))
	}
	_, ok, _ := b.Load(ctx, "a")
	require.True(t, ok)

	require.NoError(t, b.Save(ctx, newContext("c", time.Now())))

	ids, err := b.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestMemoryIdleExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	b, err := NewBackend(BackendMemory, WithTTL(time.Minute), withClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, b.Save(ctx, newContext("a", clock.Now())))
	require.NoError(t, b.Save(ctx, newContext("b", clock.Now())))

	clock.Advance(45 * time.Second)
	_, ok, _ := b.Load(ctx, "a")
	require.True(t, ok)

	clock.Advance(45 * time.Second)
	_, ok, _ = b.Load(ctx, "a")
	assert.True(t, ok, "read refreshes the deadline")
	_, ok, _ = b.Load(ctx, "b")
	assert.False(t, ok)

	ids, _ := b.IDs(ctx)
	assert.Equal(t, []string{"a"}, ids)

	require.NoError(t, b.Delete(ctx, "a"))
	require.NoError(t, b.Delete(ctx, "a"))
	ids, _ = b.IDs(ctx)
	assert.Empty(t, ids)
}

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(NewMemoryBackend(100, time.Hour), opts...)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

func TestGetOrCreateIsLazyAndStable(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	c, err := m.GetOrCreate(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "default", c.ID)
	assert.Zero(t, c.Len())

	require.NoError(t, m.With(ctx, "default", func(c *Context) error {
		c.Append(llm.UserMessage("hello"))
		return nil
	}))

	again, err := m.GetOrCreate(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, 1, again.Len())
	assert.Equal(t, "hello", again.Turns[0].Content)

	_, err = m.GetOrCreate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestWithAppendsAcrossCalls(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.With(ctx, "s1", func(c *Context) error {
			c.Append(llm.UserMessage(fmt.Sprintf("turn %d", i)))
			return nil
		}))
	}

	c, err := m.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())
	for i, turn := range c.Turns {
		assert.Equal(t, fmt.Sprintf("turn %d", i), turn.Content)
	}
}

func TestWithSkipsSaveOnError(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	boom := errors.New("boom")

	require.NoError(t, m.With(ctx, "s1", func(c *Context) error {
		c.Append(llm.UserMessage("kept"))
		return nil
	}))
	err := m.With(ctx, "s1", func(c *Context) error {
		c.Append(llm.UserMessage("dropped"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	c, _ := m.GetOrCreate(ctx, "s1")
	require.Equal(t, 1, c.Len())
	assert.Equal(t, "kept", c.Turns[0].Content)
}

func TestWithSurvivesEvictionWhileHeld(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryBackend(1, time.Hour))
	t.Cleanup(func() { _ = m.Shutdown() })

	require.NoError(t, m.With(ctx, "a", func(c *Context) error {
		c.Append(llm.UserMessage("a1"))
		return nil
	}))

	// While a is held, work on b pushes a out of the one-slot backend.
	err := m.With(ctx, "a", func(c *Context) error {
		require.NoError(t, m.With(ctx, "b", func(other *Context) error {
			other.Append(llm.UserMessage("b1"))
			return nil
		}))
		c.Append(llm.UserMessage("a2"))
		return nil
	})
	require.NoError(t, err)

	c, err := m.GetOrCreate(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	assert.Equal(t, "a1", c.Turns[0].Content)
	assert.Equal(t, "a2", c.Turns[1].Content)
}

func TestWithSerializesOneSession(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.With(ctx, "shared", func(c *Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				c.Append(llm.UserMessage("x"))
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	c, _ := m.GetOrCreate(ctx, "shared")
	assert.Equal(t, 20, c.Len())
	assert.Empty(t, m.locks)
}

func TestDistinctSessionsDoNotContend(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.With(ctx, "slow", func(*Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	require.NoError(t, m.With(ctx, "fast", func(c *Context) error {
		c.Append(llm.UserMessage("ok"))
		return nil
	}))

	close(release)
	require.NoError(t, <-done)
}

func TestLockHonoursContext(t *testing.T) {
	m := newTestManager(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.With(context.Background(), "s1", func(*Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := m.With(ctx, "s1", func(*Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
}

func TestCreateCloseAndList(t *testing.T) {
	ctx := context.Background()
	mt := metrics.NewMetrics()
	m := newTestManager(t, WithManagerMetrics(mt))

	id, err := m.Create(ctx)
	require.NoError(t, err)
	assert.Len(t, id, 36)
	_, err = m.GetOrCreate(ctx, "default")
	require.NoError(t, err)

	ids, err := m.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{id, "default"}, ids)

	require.NoError(t, m.Close(ctx, id))
	ids, _ = m.List(ctx)
	assert.Equal(t, []string{"default"}, ids)

	// A closed id starts over.
	c, err := m.GetOrCreate(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, c.Len())

	assert.ErrorIs(t, m.Close(ctx, ""), ErrInvalidID)
}

func TestRedisBackend(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := DialRedis(ctx, url)
	require.NoError(t, err)

	b, err := NewBackend(BackendRedis, WithRedisClient(client), WithTTL(time.Minute))
	require.NoError(t, err)
	defer b.Close()

	id := "test-" + time.Now().Format("150405.000000")
	defer b.Delete(ctx, id)

	c := newContext(id, time.Now())
	c.Append(llm.UserMessage("hi"))
	require.NoError(t, b.Save(ctx, c))

	loaded, ok, err := b.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hi", loaded.Turns[0].Content)
	assert.Equal(t, int64(1), loaded.Version)

	stale := newContext(id, time.Now())
	assert.ErrorIs(t, b.Save(ctx, stale), ErrVersionConflict)

	ids, err := b.IDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	require.NoError(t, b.Delete(ctx, id))
	_, ok, err = b.Load(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDialRedisRejectsBadURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "not a url")
	assert.Error(t, err)
}
