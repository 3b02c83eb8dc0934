package table

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockadmin/internal/core"
)

type recordingUpdater struct {
	mu      sync.Mutex
	patches []WriteUser
	err     error
	block   chan struct{}
}

func (u *recordingUpdater) Update(_ context.Context, collection, id string, p core.Patch) error {
	if u.block != nil {
		<-u.block
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.patches = append(u.patches, WriteUser{ID: id, Patch: p})
	return u.err
}

func (u *recordingUpdater) written() []WriteUser {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]WriteUser(nil), u.patches...)
}

// fakeTimers collects scheduled callbacks and fires them as virtual time
// advances.
type fakeTimers struct {
	mu      sync.Mutex
	now     time.Duration
	pending []fakeTimer
}

type fakeTimer struct {
	at time.Duration
	fn func()
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, fakeTimer{at: f.now + d, fn: fn})
}

func (f *fakeTimers) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += d
	var due, rest []fakeTimer
	for _, t := range f.pending {
		if t.at <= f.now {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	f.pending = rest
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

type countingRecorder struct {
	mu     sync.Mutex
	pulses int
	writes int
	failed int
}

func (r *countingRecorder) HighlightPulsed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pulses++
}

func (r *countingRecorder) UserWritten(_ []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if err != nil {
		r.failed++
	}
}

func TestHighlightClearsAfterLastToggle(t *testing.T) {
	timers := &fakeTimers{}
	upd := &recordingUpdater{}
	s := NewSession("s1", Options{Updater: upd, AfterFunc: timers.AfterFunc})
	ctx := context.Background()
	u := core.User{ID: "u1"}

	require.NoError(t, s.Dispatch(ctx, ToggleBlocked{User: u}))
	timers.Advance(600 * time.Millisecond)
	require.NoError(t, s.Dispatch(ctx, ToggleStatus{User: u}))

	// 1000ms after the first toggle: still pulsing for the second.
	timers.Advance(400 * time.Millisecond)
	assert.Equal(t, RowHighlighted, s.State().Row("u1"))

	timers.Advance(599 * time.Millisecond)
	assert.Equal(t, RowHighlighted, s.State().Row("u1"))

	timers.Advance(1 * time.Millisecond)
	assert.Equal(t, RowIdle, s.State().Row("u1"))

	s.Wait()
	assert.Len(t, upd.written(), 2)
}

func TestDispatchDoesNotWaitForWrite(t *testing.T) {
	upd := &recordingUpdater{block: make(chan struct{})}
	rec := &countingRecorder{}
	s := NewSession("s1", Options{Updater: upd, AfterFunc: (&fakeTimers{}).AfterFunc, Recorder: rec})

	done := make(chan error, 1)
	go func() { done <- s.Dispatch(context.Background(), ToggleBlocked{User: core.User{ID: "u1"}}) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on the store write")
	}
	assert.Equal(t, RowHighlighted, s.State().Row("u1"))

	close(upd.block)
	s.Wait()
	require.Len(t, upd.written(), 1)
	assert.Equal(t, core.Patch{core.FieldBlocked: true}, upd.written()[0].Patch)
	assert.Equal(t, 1, rec.pulses)
	assert.Equal(t, 1, rec.writes)
}

func TestWriteFailureIsNotReturned(t *testing.T) {
	upd := &recordingUpdater{err: errors.New("permission denied")}
	rec := &countingRecorder{}
	s := NewSession("s1", Options{Updater: upd, AfterFunc: (&fakeTimers{}).AfterFunc, Recorder: rec})

	require.NoError(t, s.Dispatch(context.Background(), ToggleStatus{User: core.User{ID: "u1", Status: core.StatusAdmin}}))
	s.Wait()
	assert.Equal(t, 1, rec.failed)
}

func TestWriteOutlivesRequestContext(t *testing.T) {
	upd := &recordingUpdater{block: make(chan struct{})}
	s := NewSession("s1", Options{Updater: upd, AfterFunc: (&fakeTimers{}).AfterFunc})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Dispatch(ctx, ToggleBlocked{User: core.User{ID: "u1"}}))
	cancel()
	close(upd.block)
	s.Wait()
	assert.Len(t, upd.written(), 1)
}

func TestOnChangeAndRows(t *testing.T) {
	s := NewSession("s1", Options{AfterFunc: (&fakeTimers{}).AfterFunc})
	var changes int
	remove := s.OnChange(func(State) { changes++ })

	ctx := context.Background()
	require.NoError(t, s.Dispatch(ctx, PointerEnter{ID: "u2"}))
	require.NoError(t, s.Dispatch(ctx, PointerEnter{ID: "u2"}))
	assert.Equal(t, 1, changes, "no-op events must not notify")

	rows := s.Rows([]core.User{{ID: "u2", Name: "B"}, {ID: "u1", Name: "A"}})
	require.Len(t, rows, 2)
	assert.Equal(t, "u1", rows[0].User.ID)
	assert.Equal(t, RowHovered, rows[1].State)

	remove()
	require.NoError(t, s.Dispatch(ctx, PointerLeave{ID: "u2"}))
	assert.Equal(t, 1, changes)
}

func TestRegistryReusesSessions(t *testing.T) {
	r := NewRegistry(2, time.Minute, Options{})
	a, created := r.Get("a")
	require.True(t, created)
	again, created := r.Get("a")
	assert.False(t, created)
	assert.Same(t, a, again)

	r.Get("b")
	r.Get("c")
	_, ok := r.Lookup("a")
	assert.False(t, ok, "least recently used session should be dropped")
	assert.Equal(t, 2, r.Len())
}
