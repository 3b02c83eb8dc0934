package http

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"stockadmin/internal/charts"
	"stockadmin/internal/core"
	"stockadmin/internal/log"
	"stockadmin/internal/projector"
	"stockadmin/internal/store"
)

// SnapshotRecorder counts delivered snapshots.
type SnapshotRecorder interface {
	SnapshotReceived(collection string)
}

// Feed holds the latest projection of the three dashboard collections and
// tells listeners which collection changed. Views render from it; they never
// read the store directly.
type Feed struct {
	sub      store.Subscriber
	recorder SnapshotRecorder

	mu        sync.RWMutex
	users     []core.User
	companies []core.Company
	txs       []core.Transaction
	loaded    map[string]bool

	lmu       sync.Mutex
	listeners map[int]func(collection string)
	nextL     int

	unsubs []store.Unsubscribe
}

func NewFeed(sub store.Subscriber, recorder SnapshotRecorder) *Feed {
	return &Feed{
		sub:       sub,
		recorder:  recorder,
		loaded:    make(map[string]bool),
		listeners: make(map[int]func(string)),
	}
}

var feedCollections = []string{
	core.CollectionUsers,
	core.CollectionCompanies,
	core.CollectionTransactions,
}

// Start subscribes to every collection in parallel. If any subscription
// fails the others are released.
func (f *Feed) Start(ctx context.Context) error {
	unsubs := make([]store.Unsubscribe, len(feedCollections))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range feedCollections {
		g.Go(func() error {
			u, err := f.sub.Subscribe(gctx, c, f.receive)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", c, err)
			}
			unsubs[i] = u
			return nil
		})
	}
	err := g.Wait()

	f.mu.Lock()
	for _, u := range unsubs {
		if u != nil {
			f.unsubs = append(f.unsubs, u)
		}
	}
	f.mu.Unlock()

	if err != nil {
		f.Stop()
		return err
	}
	return nil
}

// Stop releases every subscription.
func (f *Feed) Stop() {
	f.mu.Lock()
	unsubs := f.unsubs
	f.unsubs = nil
	f.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (f *Feed) receive(snap store.Snapshot) {
	if f.recorder != nil {
		f.recorder.SnapshotReceived(snap.Collection)
	}

	f.mu.Lock()
	switch snap.Collection {
	case core.CollectionUsers:
		f.users, _ = projector.Users(snap)
	case core.CollectionCompanies:
		f.companies, _ = projector.Companies(snap)
	case core.CollectionTransactions:
		f.txs, _ = projector.Transactions(snap)
	default:
		f.mu.Unlock()
		slog.Warn("Snapshot for unknown collection", log.FieldCollection, snap.Collection)
		return
	}
	f.loaded[snap.Collection] = true
	f.mu.Unlock()

	f.lmu.Lock()
	listeners := make([]func(string), 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.lmu.Unlock()
	for _, fn := range listeners {
		fn(snap.Collection)
	}
}

// OnChange registers fn for every delivered snapshot. fn must not block.
func (f *Feed) OnChange(fn func(collection string)) func() {
	f.lmu.Lock()
	defer f.lmu.Unlock()
	id := f.nextL
	f.nextL++
	f.listeners[id] = fn
	return func() {
		f.lmu.Lock()
		defer f.lmu.Unlock()
		delete(f.listeners, id)
	}
}

// Users returns a copy of the latest users and whether a snapshot has
// arrived yet.
func (f *Feed) Users() ([]core.User, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.User, len(f.users))
	copy(out, f.users)
	return out, f.loaded[core.CollectionUsers]
}

func (f *Feed) User(id string) (core.User, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, true
		}
	}
	return core.User{}, false
}

// Charts builds both chart series. ok is false until companies and
// transactions have both arrived.
func (f *Feed) Charts() (series charts.Series, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ok = f.loaded[core.CollectionCompanies] && f.loaded[core.CollectionTransactions]
	return charts.Build(f.txs, projector.CompanyNames(f.companies), projector.UserNames(f.users)), ok
}

// Ready reports whether every collection has delivered at least once.
func (f *Feed) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range feedCollections {
		if !f.loaded[c] {
			return false
		}
	}
	return true
}
