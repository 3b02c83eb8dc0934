package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config for an LRUCache. With Sliding set, every successful Get pushes the
// entry's expiry out by TTL.
type Config[T any] struct {
	MaxSize int
	TTL     time.Duration
	Sliding bool
	// OnEvict runs after an entry leaves the cache for any reason other than
	// being overwritten by Set. It is called without the cache lock held.
	OnEvict func(key string, value T)
}

// LRU cache with TTL and size-based eviction
type LRUCache[T any] struct {
	mu    sync.Mutex
	cfg   Config[T]
	items map[string]*list.Element
	lru   *list.List
	now   func() time.Time
}

type cacheItem[T any] struct {
	key       string
	data      T
	expiresAt time.Time
}

type evicted[T any] struct {
	key  string
	data T
}

func New[T any](cfg Config[T]) *LRUCache[T] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	return &LRUCache[T]{
		cfg:   cfg,
		items: make(map[string]*list.Element),
		lru:   list.New(),
		now:   time.Now,
	}
}

// NewLRUCache creates a fixed-expiry LRU cache.
func NewLRUCache[T any](maxSize int, ttl time.Duration) *LRUCache[T] {
	return New(Config[T]{MaxSize: maxSize, TTL: ttl})
}

// Get retrieves a value from the cache
func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	var (
		zero T
		out  []evicted[T]
	)
	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return zero, false
	}
	item := elem.Value.(*cacheItem[T])
	now := c.now()
	if now.After(item.expiresAt) {
		out = append(out, c.removeElement(elem))
		c.mu.Unlock()
		c.notify(out)
		return zero, false
	}
	if c.cfg.Sliding {
		item.expiresAt = now.Add(c.cfg.TTL)
	}
	c.lru.MoveToFront(elem)
	c.mu.Unlock()
	return item.data, true
}

// GetOrCreate returns the live entry for key or stores the value made by
// create. The bool reports whether create ran.
func (c *LRUCache[T]) GetOrCreate(key string, create func() T) (T, bool) {
	if v, ok := c.Get(key); ok {
		return v, false
	}

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		// Raced with another creator.
		item := elem.Value.(*cacheItem[T])
		c.lru.MoveToFront(elem)
		c.mu.Unlock()
		return item.data, false
	}
	v := create()
	out := c.insert(key, v)
	c.mu.Unlock()
	c.notify(out)
	return v, true
}

// Set stores a value in the cache
func (c *LRUCache[T]) Set(key string, data T) {
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*cacheItem[T])
		item.data = data
		item.expiresAt = c.now().Add(c.cfg.TTL)
		c.lru.MoveToFront(elem)
		c.mu.Unlock()
		return
	}
	out := c.insert(key, data)
	c.mu.Unlock()
	c.notify(out)
}

// Delete removes a key from the cache
func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	var out []evicted[T]
	if elem, ok := c.items[key]; ok {
		out = append(out, c.removeElement(elem))
	}
	c.mu.Unlock()
	c.notify(out)
}

// CleanExpired removes all expired entries and returns count of removed items
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()
	now := c.now()
	var out []evicted[T]
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		if now.After(elem.Value.(*cacheItem[T]).expiresAt) {
			out = append(out, c.removeElement(elem))
		}
		elem = next
	}
	c.mu.Unlock()
	c.notify(out)
	return len(out)
}

// Range calls fn for every live entry, most recently used first.
func (c *LRUCache[T]) Range(fn func(key string, value T) bool) {
	c.mu.Lock()
	now := c.now()
	items := make([]evicted[T], 0, c.lru.Len())
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*cacheItem[T])
		if !now.After(item.expiresAt) {
			items = append(items, evicted[T]{key: item.key, data: item.data})
		}
	}
	c.mu.Unlock()

	for _, it := range items {
		if !fn(it.key, it.data) {
			return
		}
	}
}

// Size returns the current number of items in the cache
func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// insert must be called with c.mu held.
func (c *LRUCache[T]) insert(key string, data T) []evicted[T] {
	elem := c.lru.PushFront(&cacheItem[T]{key: key, data: data, expiresAt: c.now().Add(c.cfg.TTL)})
	c.items[key] = elem

	var out []evicted[T]
	for c.lru.Len() > c.cfg.MaxSize {
		out = append(out, c.removeElement(c.lru.Back()))
	}
	return out
}

func (c *LRUCache[T]) removeElement(elem *list.Element) evicted[T] {
	item := elem.Value.(*cacheItem[T])
	delete(c.items, item.key)
	c.lru.Remove(elem)
	return evicted[T]{key: item.key, data: item.data}
}

func (c *LRUCache[T]) notify(out []evicted[T]) {
	if c.cfg.OnEvict == nil {
		return
	}
	for _, e := range out {
		c.cfg.OnEvict(e.key, e.data)
	}
}
