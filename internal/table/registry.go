package table

import (
	"time"

	"stockadmin/internal/cache"
)

// Registry keeps one Session per browser. Idle sessions expire after ttl
// and the least recently used ones are dropped beyond maxSessions.
type Registry struct {
	sessions *cache.LRUCache[*Session]
	opts     Options
}

func NewRegistry(maxSessions int, ttl time.Duration, opts Options) *Registry {
	return &Registry{
		sessions: cache.New(cache.Config[*Session]{
			MaxSize: maxSessions,
			TTL:     ttl,
			Sliding: true,
		}),
		opts: opts,
	}
}

// Get returns the session for id, creating it when missing or expired.
func (r *Registry) Get(id string) (*Session, bool) {
	return r.sessions.GetOrCreate(id, func() *Session {
		return NewSession(id, r.opts)
	})
}

// Lookup returns an existing session only.
func (r *Registry) Lookup(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

func (r *Registry) Len() int {
	return r.sessions.Size()
}

// Cache exposes the backing cache for periodic cleanup.
func (r *Registry) Cache() cache.Cleaner {
	return r.sessions
}
