package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"stockadmin/internal/core"
)

// Snapshot is a full-replace view of one collection. A nil Records map is an
// empty collection, never an error.
type Snapshot struct {
	Collection string
	Version    uint64
	Records    map[string]json.RawMessage
}

// Keys returns record ids in lexicographic order, the order realtime stores
// list children in.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Records))
	for k := range s.Records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s Snapshot) Len() int {
	return len(s.Records)
}

type (
	// SnapshotFunc receives every snapshot of a subscribed collection. It must
	// not write to the store synchronously.
	SnapshotFunc func(Snapshot)

	// Unsubscribe stops delivery. Calling it more than once is a no-op.
	Unsubscribe func()
)

// Ports for the realtime document store.
type (
	Subscriber interface {
		// Subscribe delivers the current snapshot and then one snapshot per change.
		Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (Unsubscribe, error)
	}

	Updater interface {
		// Update merges patch into /collection/id. Fields not named are untouched.
		Update(ctx context.Context, collection, id string, patch core.Patch) error
	}

	Store interface {
		Subscriber
		Updater
		Close() error
	}

	// Notifier carries "collection changed" notices between processes that
	// share one backing database.
	Notifier interface {
		Notify(ctx context.Context, collection string) error
		// Listen blocks until ctx is done, calling fn for every notice sent
		// by another process.
		Listen(ctx context.Context, fn func(collection string)) error
	}
)

// Once subscribes, waits for the first snapshot and unsubscribes.
func Once(ctx context.Context, sub Subscriber, collection string) (Snapshot, error) {
	ch := make(chan Snapshot, 1)
	unsubscribe, err := sub.Subscribe(ctx, collection, func(s Snapshot) {
		select {
		case ch <- s:
		default:
		}
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("subscribe %s: %w", collection, err)
	}
	defer unsubscribe()

	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, fmt.Errorf("wait for %s snapshot: %w", collection, ctx.Err())
	}
}

// ValidCollection reports whether name is one of the dashboard collections.
func ValidCollection(name string) bool {
	switch name {
	case core.CollectionUsers, core.CollectionCompanies, core.CollectionTransactions:
		return true
	default:
		return false
	}
}
