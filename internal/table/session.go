package table

import (
	"context"
	"sync"
	"time"

	"stockadmin/internal/core"
	"stockadmin/internal/log"
	"stockadmin/internal/store"
)

const (
	DefaultHighlightDuration = 1000 * time.Millisecond
	DefaultWriteTimeout      = 10 * time.Second
)

// Recorder observes session side effects. Implementations must be safe for
// concurrent use.
type Recorder interface {
	HighlightPulsed()
	UserWritten(fields []string, err error)
}

type nopRecorder struct{}

func (nopRecorder) HighlightPulsed()            {}
func (nopRecorder) UserWritten([]string, error) {}

type Options struct {
	Updater           store.Updater
	HighlightDuration time.Duration
	WriteTimeout      time.Duration
	// AfterFunc schedules f after d. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func())
	Recorder  Recorder
}

// Session is one browser's table state. Writes are fire-and-forget: Dispatch
// returns as soon as the state has changed and the write has been started.
type Session struct {
	ID string

	opts Options

	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextL     int

	writes sync.WaitGroup
}

func NewSession(id string, opts Options) *Session {
	if opts.HighlightDuration <= 0 {
		opts.HighlightDuration = DefaultHighlightDuration
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Session{
		ID:        id,
		opts:      opts,
		state:     NewState(),
		listeners: make(map[int]func(State)),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch reduces e into the session state, runs the resulting effects and
// notifies listeners when the state changed.
func (s *Session) Dispatch(ctx context.Context, e Event) error {
	s.mu.Lock()
	prev := s.state
	next, effects, err := Reduce(prev, e)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	var listeners []func(State)
	if next != prev {
		listeners = make([]func(State), 0, len(s.listeners))
		for _, fn := range s.listeners {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	for _, eff := range effects {
		s.run(ctx, eff)
	}
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

// OnChange registers fn for every state change. The returned func removes it.
func (s *Session) OnChange(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextL
	s.nextL++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Wait blocks until every started write has finished.
func (s *Session) Wait() {
	s.writes.Wait()
}

// Rows sorts users by the session's sort state and attaches row state.
func (s *Session) Rows(users []core.User) []Row {
	st := s.State()
	sorted := st.Sort.Apply(users)
	rows := make([]Row, len(sorted))
	for i, u := range sorted {
		rows[i] = Row{User: u, State: st.Row(u.ID)}
	}
	return rows
}

// Row is one rendered table row.
type Row struct {
	User  core.User
	State RowState
}

func (s *Session) run(ctx context.Context, eff Effect) {
	switch eff := eff.(type) {
	case WriteUser:
		s.write(ctx, eff)
	case ScheduleClear:
		s.opts.Recorder.HighlightPulsed()
		h := eff.Highlight
		s.opts.AfterFunc(s.opts.HighlightDuration, func() {
			_ = s.Dispatch(context.Background(), HighlightExpired{Highlight: h})
		})
	}
}

func (s *Session) write(ctx context.Context, w WriteUser) {
	if s.opts.Updater == nil {
		return
	}
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
		defer cancel()

		fields := w.Patch.Fields()
		err := s.opts.Updater.Update(ctx, core.CollectionUsers, w.ID, w.Patch)
		s.opts.Recorder.UserWritten(fields, err)
		log.NewStructuredLogger(log.FromContext(ctx).With(log.FieldSessionID, s.ID)).
			LogUserChange(ctx, w.ID, fields, err)
	}()
}
