package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"stockadmin/internal/core"
	"stockadmin/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is an in-process realtime document store. Records are kept as decoded
// JSON objects keyed by collection and id.
type Store struct {
	mu       sync.Mutex
	data     map[string]map[string]map[string]any
	versions map[string]uint64
	fanout   *store.Fanout
}

func New(seed store.Export) *Store {
	s := &Store{
		data:     make(map[string]map[string]map[string]any),
		versions: make(map[string]uint64),
		fanout:   store.NewFanout(),
	}
	for c, records := range seed {
		s.data[c] = make(map[string]map[string]any, len(records))
		for id, rec := range records {
			s.data[c][id] = cloneRecord(rec)
		}
	}
	return s
}

// NewFromFile seeds the store from a JSON export. A missing or unreadable
// file falls back to the built-in demo data.
func NewFromFile(path string) (*Store, error) {
	if path == "" {
		return New(DemoData()), nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(DemoData()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	exp, err := store.ParseExport(raw)
	if err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return New(exp), nil
}

// Subscribe implements store.Subscriber.
func (s *Store) Subscribe(_ context.Context, collection string, fn store.SnapshotFunc) (store.Unsubscribe, error) {
	if !store.ValidCollection(collection) {
		return nil, fmt.Errorf("subscribe %q: %w", collection, core.ErrNotFound)
	}
	return s.fanout.Subscribe(collection, fn, func() (store.Snapshot, error) {
		return s.snapshot(collection)
	})
}

// Update implements store.Updater.
func (s *Store) Update(_ context.Context, collection, id string, patch core.Patch) error {
	if collection != core.CollectionUsers {
		return fmt.Errorf("update %s: collection is read-only", collection)
	}
	if err := core.ValidateUserPatch(patch); err != nil {
		return err
	}

	s.mu.Lock()
	rec, ok := s.data[collection][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update %s/%s: %w", collection, id, core.ErrNotFound)
	}
	for k, v := range patch {
		rec[k] = v
	}
	s.versions[collection]++
	s.mu.Unlock()

	snap, err := s.snapshot(collection)
	if err != nil {
		return err
	}
	s.fanout.Publish(snap)
	return nil
}

// Subscribers returns the number of live subscriptions for collection.
func (s *Store) Subscribers(collection string) int {
	return s.fanout.Count(collection)
}

func (s *Store) Close() error { return nil }

func (s *Store) snapshot(collection string) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := store.Snapshot{Collection: collection, Version: s.versions[collection]}
	records := s.data[collection]
	if len(records) == 0 {
		return snap, nil
	}
	snap.Records = make(map[string]json.RawMessage, len(records))
	for id, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("marshal %s/%s: %w", collection, id, err)
		}
		snap.Records[id] = b
	}
	return snap, nil
}

func cloneRecord(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
