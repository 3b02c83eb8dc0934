package rtdb

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockadmin/internal/core"
	"stockadmin/internal/store"
)

// fakeDB keeps collections in memory behind the Database interface.
type fakeDB struct {
	mu      sync.Mutex
	data    map[string]map[string]map[string]any
	patches []string
	readErr error
	gates   map[string]chan struct{}
	entered chan string
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		data: map[string]map[string]map[string]any{
			"users": {
				"u1": {"name": "Alice", "email": "a@example.com", "status": "admin", "blocked": false},
			},
		},
		gates:   make(map[string]chan struct{}),
		entered: make(chan string, 16),
	}
}

func (f *fakeDB) Get(ctx context.Context, path string, v any) error {
	parts := strings.Split(path, "/")

	f.mu.Lock()
	gate := f.gates[path]
	f.mu.Unlock()
	if gate != nil {
		f.entered <- path
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var out any
	if len(parts) == 1 {
		if f.readErr != nil {
			return f.readErr
		}
		if c, ok := f.data[parts[0]]; ok {
			out = c
		}
	} else if rec, ok := f.data[parts[0]][parts[1]]; ok {
		out = rec
	}
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (f *fakeDB) Update(_ context.Context, path string, values map[string]any) error {
	parts := strings.Split(path, "/")
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.data[parts[0]][parts[1]]
	for k, v := range values {
		rec[k] = v
	}
	f.patches = append(f.patches, parts[1])
	return nil
}

func (f *fakeDB) set(collection, id string, rec map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[collection] == nil {
		f.data[collection] = make(map[string]map[string]any)
	}
	f.data[collection][id] = rec
}

// streamServer serves one event stream per request. Each connection writes
// the events queued on send and stays open until the client leaves.
type streamServer struct {
	conns atomic.Int32
	send  chan string
}

func newStreamServer() *streamServer {
	return &streamServer{send: make(chan string, 16)}
}

func (s *streamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.conns.Add(1)
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-s.send:
			io.WriteString(w, ev)
			w.(http.Flusher).Flush()
		}
	}
}

func newTestClient(t *testing.T, db Database, stream http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(stream)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Config{BaseURL: srv.URL + "/", Database: db, HTTPClient: srv.Client()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func decodeUser(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var u map[string]any
	require.NoError(t, json.Unmarshal(raw, &u))
	return u
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestStreamURLKeepsNamespace(t *testing.T) {
	c, err := New(context.Background(), Config{
		BaseURL:    "http://localhost:9000?ns=demo",
		Database:   newFakeDB(),
		HTTPClient: http.DefaultClient,
	})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "http://localhost:9000/users.json?ns=demo", c.streamURL(core.CollectionUsers))
}

func TestSubscribeAndUpdate(t *testing.T) {
	db := newFakeDB()
	c := newTestClient(t, db, newStreamServer())
	ctx := context.Background()

	got := make(chan store.Snapshot, 16)
	unsubscribe, err := c.Subscribe(ctx, core.CollectionUsers, func(s store.Snapshot) { got <- s })
	require.NoError(t, err)
	defer unsubscribe()

	first := <-got
	require.Equal(t, 1, first.Len())

	require.NoError(t, c.Update(ctx, core.CollectionUsers, "u1", core.BlockedPatch(true)))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-got:
			u := decodeUser(t, s.Records["u1"])
			if u["blocked"] == true {
				assert.Equal(t, "Alice", u["name"])
				assert.Greater(t, s.Version, first.Version)
				db.mu.Lock()
				assert.Equal(t, []string{"u1"}, db.patches)
				db.mu.Unlock()
				return
			}
		case <-deadline:
			t.Fatal("update never reached subscriber")
		}
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	db := newFakeDB()
	c := newTestClient(t, db, newStreamServer())

	err := c.Update(context.Background(), core.CollectionUsers, "ghost", core.BlockedPatch(true))
	assert.True(t, errors.Is(err, core.ErrNotFound), "got %v", err)
	assert.Empty(t, db.patches)

	err = c.Update(context.Background(), core.CollectionCompanies, "c1", core.Patch{"name": "x"})
	assert.Error(t, err)
}

func TestUpdateSucceedsWhenRefreshFails(t *testing.T) {
	db := newFakeDB()
	c := newTestClient(t, db, newStreamServer())

	db.mu.Lock()
	db.readErr = errors.New("permission denied")
	db.mu.Unlock()

	require.NoError(t, c.Update(context.Background(), core.CollectionUsers, "u1", core.StatusPatch(core.StatusUser)))
	db.mu.Lock()
	defer db.mu.Unlock()
	assert.Equal(t, "user", db.data["users"]["u1"]["status"])
}

func TestEmptyCollection(t *testing.T) {
	c := newTestClient(t, newFakeDB(), newStreamServer())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := store.Once(ctx, c, core.CollectionTransactions)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())
	assert.Nil(t, snap.Records)
}

func TestReadErrorSurfaces(t *testing.T) {
	db := newFakeDB()
	db.readErr = errors.New("Permission denied")
	c := newTestClient(t, db, newStreamServer())

	_, err := c.Subscribe(context.Background(), core.CollectionUsers, func(store.Snapshot) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Permission denied")

	_, err = c.Subscribe(context.Background(), "orders", func(store.Snapshot) {})
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestStreamEventRefreshesSubscribers(t *testing.T) {
	db := newFakeDB()
	stream := newStreamServer()
	c := newTestClient(t, db, stream)

	got := make(chan store.Snapshot, 16)
	unsubscribe, err := c.Subscribe(context.Background(), core.CollectionCompanies, func(s store.Snapshot) { got <- s })
	require.NoError(t, err)
	defer unsubscribe()
	require.Equal(t, 0, (<-got).Len())

	// Another writer adds a company; the database announces it on the stream.
	db.set(core.CollectionCompanies, "c1", map[string]any{"name": "Acme Corp"})
	stream.send <- ": comment\n\nevent: keep-alive\ndata: null\n\n"
	stream.send <- "event: patch\ndata: {\"path\":\"/c1\",\"data\":{\"name\":\"Acme Corp\"}}\n\n"

	select {
	case s := <-got:
		assert.Equal(t, 1, s.Len())
	case <-time.After(3 * time.Second):
		t.Fatal("stream event did not refresh the collection")
	}
}

func TestStreamReopensAfterCancel(t *testing.T) {
	stream := newStreamServer()
	c := newTestClient(t, newFakeDB(), stream)

	unsubscribe, err := c.Subscribe(context.Background(), core.CollectionUsers, func(store.Snapshot) {})
	require.NoError(t, err)
	defer unsubscribe()

	stream.send <- "event: cancel\ndata: null\n\n"

	assert.Eventually(t, func() bool { return stream.conns.Load() >= 2 },
		3*time.Second, 20*time.Millisecond, "stream was not reopened after cancel")
}

func TestHandleEvent(t *testing.T) {
	c := newTestClient(t, newFakeDB(), newStreamServer())
	ctx := context.Background()

	tests := []struct {
		name     string
		keepOpen bool
	}{
		{"put", true},
		{"patch", true},
		{"keep-alive", true},
		{"cancel", false},
		{"auth_revoked", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.keepOpen, c.handleEvent(ctx, core.CollectionUsers, tt.name))
		})
	}
}

func TestSlowReadDoesNotBlockOtherCollections(t *testing.T) {
	db := newFakeDB()
	gate := make(chan struct{})
	db.gates[core.CollectionCompanies] = gate
	c := newTestClient(t, db, newStreamServer())
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() { slow <- c.refresh(ctx, core.CollectionCompanies) }()
	<-db.entered

	fast := make(chan error, 1)
	go func() { fast <- c.refresh(ctx, core.CollectionUsers) }()
	select {
	case err := <-fast:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("users refresh waited on the companies read")
	}

	close(gate)
	assert.NoError(t, <-slow)
}

func TestNewBackoff(t *testing.T) {
	b := newBackoff()
	assert.Equal(t, reconnectFirst, b.InitialInterval)
	assert.Equal(t, reconnectCeiling, b.MaxInterval)
	assert.Zero(t, b.MaxElapsedTime)

	first := b.NextBackOff()
	assert.Greater(t, first, time.Duration(0))
	assert.LessOrEqual(t, first, reconnectFirst*3/2)
}
