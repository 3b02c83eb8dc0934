// Package table holds the users table interaction model: sort order, row
// hover and highlight, and the edit modal. State changes go through Reduce,
// which is pure; side effects come back as values for the caller to run.
package table

import (
	"errors"
	"fmt"

	"stockadmin/internal/core"
)

var ErrModalClosed = errors.New("edit modal is not open")

// Highlight marks the row pulsed by the latest toggle. Gen identifies the
// pulse so an older clear cannot end a newer one.
type Highlight struct {
	ID  string
	Gen uint64
}

// Modal is the edit dialog. Working is a copy of the selected user that
// only the modal mutates.
type Modal struct {
	Open    bool
	Working core.User
}

type State struct {
	Sort      SortState
	Hovered   string
	Highlight Highlight
	Modal     Modal

	gen uint64
}

func NewState() State {
	return State{Sort: DefaultSort()}
}

// RowState is what a single row renders from.
type RowState int

const (
	RowIdle RowState = iota
	RowHovered
	RowHighlighted
)

// Row reports the visual state of row id. Highlight wins over hover.
func (s State) Row(id string) RowState {
	switch {
	case s.Highlight.ID != "" && s.Highlight.ID == id:
		return RowHighlighted
	case s.Hovered != "" && s.Hovered == id:
		return RowHovered
	default:
		return RowIdle
	}
}

// Events.
type (
	Event interface{ event() }

	SortBy           struct{ Column Column }
	PointerEnter     struct{ ID string }
	PointerLeave     struct{ ID string }
	ToggleBlocked    struct{ User core.User }
	ToggleStatus     struct{ User core.User }
	HighlightExpired struct{ Highlight Highlight }
	OpenEdit         struct{ User core.User }
	EditField        struct{ Field, Value string }
	SaveEdit         struct{}
	CancelEdit       struct{}
)

func (SortBy) event()           {}
func (PointerEnter) event()     {}
func (PointerLeave) event()     {}
func (ToggleBlocked) event()    {}
func (ToggleStatus) event()     {}
func (HighlightExpired) event() {}
func (OpenEdit) event()         {}
func (EditField) event()        {}
func (SaveEdit) event()         {}
func (CancelEdit) event()       {}

// Effects.
type (
	Effect interface{ effect() }

	// WriteUser asks for a partial update of one user record.
	WriteUser struct {
		ID    string
		Patch core.Patch
	}

	// ScheduleClear asks for HighlightExpired{Highlight} after the pulse
	// duration.
	ScheduleClear struct {
		Highlight Highlight
	}
)

func (WriteUser) effect()     {}
func (ScheduleClear) effect() {}

// Reduce applies e to s. It returns an error only for events that make no
// sense in the current state; s is then returned unchanged.
func Reduce(s State, e Event) (State, []Effect, error) {
	switch e := e.(type) {
	case SortBy:
		s.Sort = s.Sort.Toggle(e.Column)
		return s, nil, nil

	case PointerEnter:
		s.Hovered = e.ID
		return s, nil, nil

	case PointerLeave:
		if s.Hovered == e.ID {
			s.Hovered = ""
		}
		return s, nil, nil

	case ToggleBlocked:
		if e.User.ID == "" {
			return s, nil, core.ErrEmptyID
		}
		next, sc := s.pulse(e.User.ID)
		return next, []Effect{
			WriteUser{ID: e.User.ID, Patch: core.BlockedPatch(!e.User.Blocked)},
			sc,
		}, nil

	case ToggleStatus:
		if e.User.ID == "" {
			return s, nil, core.ErrEmptyID
		}
		next, sc := s.pulse(e.User.ID)
		return next, []Effect{
			WriteUser{ID: e.User.ID, Patch: core.StatusPatch(e.User.Status.Toggle())},
			sc,
		}, nil

	case HighlightExpired:
		if s.Highlight == e.Highlight {
			s.Highlight = Highlight{}
		}
		return s, nil, nil

	case OpenEdit:
		if e.User.ID == "" {
			return s, nil, core.ErrEmptyID
		}
		s.Modal = Modal{Open: true, Working: e.User}
		return s, nil, nil

	case EditField:
		if !s.Modal.Open {
			return s, nil, ErrModalClosed
		}
		switch e.Field {
		case core.FieldName:
			s.Modal.Working.Name = e.Value
		case core.FieldEmail:
			s.Modal.Working.Email = e.Value
		case core.FieldPassword:
			s.Modal.Working.Password = e.Value
		default:
			return s, nil, fmt.Errorf("edit %q: %w", e.Field, core.ErrUnknownField)
		}
		return s, nil, nil

	case SaveEdit:
		if !s.Modal.Open {
			return s, nil, ErrModalClosed
		}
		w := s.Modal.Working
		s.Modal = Modal{}
		return s, []Effect{WriteUser{ID: w.ID, Patch: core.ProfilePatch(w)}}, nil

	case CancelEdit:
		s.Modal = Modal{}
		return s, nil, nil

	default:
		return s, nil, fmt.Errorf("unhandled event %T", e)
	}
}

// pulse highlights id with a fresh generation, replacing any prior pulse.
func (s State) pulse(id string) (State, ScheduleClear) {
	s.gen++
	s.Highlight = Highlight{ID: id, Gen: s.gen}
	return s, ScheduleClear{Highlight: s.Highlight}
}
