// Package querycache holds fetched backend collections keyed by semantic query keys.
//
// A value is fresh for the configured stale time. Reads of a missing or stale key
// run the fetch once no matter how many callers ask concurrently; a failed fetch is
// never cached and leaves any previous value in place.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultStaleTime matches the five minute window every console view uses.
const DefaultStaleTime = 5 * time.Minute

var ErrClosed = errors.New("querycache: closed")

// Key identifies a query, e.g. Key{"users"} or Key{"reports", "trips", "42"}.
type Key []string

func (k Key) String() string {
	return strings.Join(k, "\x1f")
}

// HasPrefix reports whether every token of prefix leads k. An empty prefix matches all keys.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

type EventKind string

const (
	EventUpdated     EventKind = "updated"
	EventInvalidated EventKind = "invalidated"
	EventRemoved     EventKind = "removed"
)

// Event describes a change to one key, or to every key under a prefix for
// invalidation and removal.
type Event struct {
	Kind   EventKind `json:"kind"`
	Key    Key       `json:"key"`
	Remote bool      `json:"remote,omitempty"`
	At     time.Time `json:"at"`
}

// Snapshot is a read-only view of an entry.
type Snapshot struct {
	Value     any
	UpdatedAt time.Time
	Fresh     bool
}

type entry struct {
	key        Key
	value      any
	hasValue   bool
	updatedAt  time.Time
	stale      bool
	generation uint64
	// stores from flights older than floor are dropped
	floor uint64
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l.Named("cache")
		}
	}
}

// Cache is safe for concurrent use. Create one at startup and pass it to the
// components that read through it.
type Cache struct {
	staleTime time.Duration
	now       func() time.Time
	logger    *zap.Logger
	group     singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	subs    map[int]chan Event
	nextSub int
	hooks   []func(Key)
	closed  bool
}

// New creates a cache. A non-positive staleTime falls back to DefaultStaleTime.
func New(staleTime time.Duration, opts ...Option) *Cache {
	if staleTime <= 0 {
		staleTime = DefaultStaleTime
	}
	c := &Cache{
		staleTime: staleTime,
		now:       time.Now,
		logger:    zap.NewNop(),
		entries:   make(map[string]*entry),
		subs:      make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) StaleTime() time.Duration {
	return c.staleTime
}

// Get returns the value for key, running fetch when the cached value is missing or stale.
func Get[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.get(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("querycache: key %q holds %T", key.String(), v)
	}
	return typed, nil
}

func (c *Cache) get(ctx context.Context, key Key, fetch func(context.Context) (any, error)) (any, error) {
	id := key.String()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.entries[id]
	if !ok {
		e = &entry{key: append(Key(nil), key...)}
		c.entries[id] = e
	}
	if c.freshLocked(e) {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	gen := e.generation
	c.mu.Unlock()

	// One flight per key and generation: after an invalidation new readers start
	// their own fetch instead of joining one that began before it.
	flight := id + "#" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(flight, func() (any, error) {
		if v, ok := c.freshValue(id, gen); ok {
			return v, nil
		}
		start := c.now()
		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			c.logger.Warn("fetch failed", zap.String("key", id), zap.Error(err))
			return nil, err
		}
		c.store(id, gen, v)
		c.logger.Debug("fetched", zap.String("key", id), zap.Duration("took", c.now().Sub(start)))
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *Cache) freshLocked(e *entry) bool {
	return e.hasValue && !e.stale && c.now().Sub(e.updatedAt) < c.staleTime
}

// freshValue covers a reader whose stale snapshot raced with a flight that has since stored.
func (c *Cache) freshValue(id string, gen uint64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || e.generation != gen || !c.freshLocked(e) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(id string, gen uint64, v any) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok || c.closed || gen < e.floor {
		c.mu.Unlock()
		return
	}
	e.value = v
	e.hasValue = true
	e.updatedAt = c.now()
	// invalidated while in flight: keep the value but the next read refetches
	e.stale = e.generation != gen
	ev := Event{Kind: EventUpdated, Key: e.key, At: e.updatedAt}
	c.publishLocked(ev)
	c.mu.Unlock()
}

// Set stores v under key as a fresh value, as if it had just been fetched.
func (c *Cache) Set(key Key, v any) {
	id := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	e, ok := c.entries[id]
	if !ok {
		e = &entry{key: append(Key(nil), key...)}
		c.entries[id] = e
	}
	e.value = v
	e.hasValue = true
	e.updatedAt = c.now()
	e.stale = false
	c.publishLocked(Event{Kind: EventUpdated, Key: e.key, At: e.updatedAt})
}

// Peek returns the stored value for key without fetching.
func (c *Cache) Peek(key Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || !e.hasValue {
		return Snapshot{}, false
	}
	return Snapshot{Value: e.value, UpdatedAt: e.updatedAt, Fresh: c.freshLocked(e)}, true
}

// Invalidate marks every entry under prefix stale so the next read refetches.
// Hooks registered with OnInvalidate run after the entries are marked.
func (c *Cache) Invalidate(prefix Key) int {
	n := c.invalidate(prefix, false)
	c.mu.Lock()
	hooks := append([]func(Key){}, c.hooks...)
	c.mu.Unlock()
	for _, hook := range hooks {
		hook(prefix)
	}
	return n
}

// InvalidateRemote applies an invalidation received from another console instance.
// It does not run OnInvalidate hooks.
func (c *Cache) InvalidateRemote(prefix Key) int {
	return c.invalidate(prefix, true)
}

func (c *Cache) invalidate(prefix Key, remote bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	n := 0
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			e.stale = true
			e.generation++
			n++
		}
	}
	c.publishLocked(Event{Kind: EventInvalidated, Key: prefix, Remote: remote, At: c.now()})
	return n
}

// Remove drops every entry under prefix. Fetches in flight for those keys do not restore them.
func (c *Cache) Remove(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	n := 0
	for id, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			c.entries[id] = &entry{key: e.key, generation: e.generation + 1, floor: e.generation + 1}
			if e.hasValue {
				n++
			}
		}
	}
	c.publishLocked(Event{Kind: EventRemoved, Key: prefix, At: c.now()})
	return n
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.Remove(nil)
}

// OnInvalidate registers a hook run after each local Invalidate.
func (c *Cache) OnInvalidate(hook func(Key)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, hook)
	c.mu.Unlock()
}

// Subscribe returns a channel of change events. A subscriber that falls
// more than buffer events behind misses events.
func (c *Cache) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

func (c *Cache) publishLocked(ev Event) {
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.logger.Debug("subscriber lagging, event dropped", zap.String("key", ev.Key.String()))
		}
	}
}

// Close drops all entries and ends every subscription. Later reads return ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.entries = make(map[string]*entry)
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	return nil
}
