package store

import (
	"sync"
)

// Fanout delivers collection snapshots to in-process subscribers.
//
// Deliveries are serialized so a subscriber never observes an older version
// after a newer one. Callbacks run on the publishing goroutine.
type Fanout struct {
	deliverMu sync.Mutex

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]*subscriber
}

type subscriber struct {
	fn        SnapshotFunc
	last      uint64
	delivered bool
}

func NewFanout() *Fanout {
	return &Fanout{subs: make(map[string]map[int]*subscriber)}
}

// Subscribe registers fn and delivers the snapshot returned by load. load runs
// while deliveries are held, so it cannot race a concurrent Publish.
func (f *Fanout) Subscribe(collection string, fn SnapshotFunc, load func() (Snapshot, error)) (Unsubscribe, error) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	initial, err := load()
	if err != nil {
		return nil, err
	}

	sub := &subscriber{fn: fn}
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[int]*subscriber)
	}
	f.subs[collection][id] = sub
	f.mu.Unlock()

	sub.deliver(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[collection], id)
			if len(f.subs[collection]) == 0 {
				delete(f.subs, collection)
			}
		})
	}, nil
}

// Publish delivers snap to every subscriber of snap.Collection.
func (f *Fanout) Publish(snap Snapshot) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	targets := make([]*subscriber, 0, len(f.subs[snap.Collection]))
	for _, s := range f.subs[snap.Collection] {
		targets = append(targets, s)
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.deliver(snap)
	}
}

// Count returns the number of live subscribers for collection.
func (f *Fanout) Count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[collection])
}

// Collections lists collections that currently have subscribers.
func (f *Fanout) Collections() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs))
	for c := range f.subs {
		out = append(out, c)
	}
	return out
}

func (s *subscriber) deliver(snap Snapshot) {
	if s.delivered && snap.Version < s.last {
		return
	}
	s.delivered = true
	s.last = snap.Version
	s.fn(snap)
}
