package session

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	ctx     *Context
	expires time.Time
}

// MemoryBackend keeps contexts in process memory, bounded by count (least
// recently used goes first) and by idle time.
type MemoryBackend struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	now     func() time.Time
	order   *list.List // front is most recently used
	entries map[string]*list.Element
}

func newMemoryBackend(max int, ttl time.Duration, now func() time.Time) *MemoryBackend {
	return &MemoryBackend{
		max:     max,
		ttl:     ttl,
		now:     now,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// NewMemoryBackend creates a memory backend holding at most max contexts,
// each expiring after ttl without use.
func NewMemoryBackend(max int, ttl time.Duration) *MemoryBackend {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return newMemoryBackend(max, ttl, time.Now)
}

// Load implements Backend. A hit refreshes the idle deadline.
func (b *MemoryBackend) Load(_ context.Context, id string) (*Context, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	el, ok := b.entries[id]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	now := b.now()
	if now.After(entry.expires) {
		b.remove(el)
		return nil, false, nil
	}

	entry.expires = now.Add(b.ttl)
	b.order.MoveToFront(el)
	return entry.ctx.clone(), true, nil
}

// Save implements Backend. It fails with ErrVersionConflict when a live
// entry has moved past c.Version.
func (b *MemoryBackend) Save(_ context.Context, c *Context) error {
	if c.ID == "" {
		return ErrInvalidID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	el, ok := b.entries[c.ID]
	if ok && now.After(el.Value.(*memoryEntry).expires) {
		b.remove(el)
		ok = false
	}
	// Versions are compared only against a live entry. A context evicted or
	// expired while its holder was still working is stored again as is.
	if ok && el.Value.(*memoryEntry).ctx.Version != c.Version {
		return ErrVersionConflict
	}

	c.Version++
	entry := &memoryEntry{ctx: c.clone(), expires: now.Add(b.ttl)}
	if ok {
		el.Value = entry
		b.order.MoveToFront(el)
	} else {
		b.entries[c.ID] = b.order.PushFront(entry)
	}

	for b.order.Len() > b.max {
		b.remove(b.order.Back())
	}
	return nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.entries[id]; ok {
		b.remove(el)
	}
	return nil
}

// IDs implements Backend. Expired contexts are pruned on the way.
func (b *MemoryBackend) IDs(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	ids := make([]string, 0, len(b.entries))
	for id, el := range b.entries {
		if now.After(el.Value.(*memoryEntry).expires) {
			b.remove(el)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.order.Init()
	b.entries = make(map[string]*list.Element)
	return nil
}

func (b *MemoryBackend) remove(el *list.Element) {
	entry := b.order.Remove(el).(*memoryEntry)
	delete(b.entries, entry.ctx.ID)
}

var _ Backend = (*MemoryBackend)(nil)
