package table

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"stockadmin/internal/core"
)

type Column string

const (
	ColumnID      Column = "id"
	ColumnName    Column = "name"
	ColumnEmail   Column = "email"
	ColumnStatus  Column = "status"
	ColumnBlocked Column = "blocked"
	ColumnBudget  Column = "budget"
)

// Columns lists every sortable column.
var Columns = []Column{ColumnID, ColumnName, ColumnEmail, ColumnStatus, ColumnBlocked, ColumnBudget}

func ParseColumn(s string) (Column, error) {
	c := Column(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Columns, c) {
		return c, nil
	}
	return "", fmt.Errorf("unknown sort column %q", s)
}

type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// SortState is the active column and its direction.
type SortState struct {
	Column    Column
	Direction Direction
}

func DefaultSort() SortState {
	return SortState{Column: ColumnName, Direction: Ascending}
}

// Toggle flips the direction when c is already active and otherwise
// selects c ascending.
func (s SortState) Toggle(c Column) SortState {
	if s.Column == c {
		if s.Direction == Ascending {
			return SortState{Column: c, Direction: Descending}
		}
		return SortState{Column: c, Direction: Ascending}
	}
	return SortState{Column: c, Direction: Ascending}
}

// DirectionFor returns the direction a header should show and whether c is
// the active column. Inactive columns show ascending.
func (s SortState) DirectionFor(c Column) (Direction, bool) {
	if s.Column == c {
		return s.Direction, true
	}
	return Ascending, false
}

// Apply returns a sorted copy of users. Equal keys keep their input order
// in both directions.
func (s SortState) Apply(users []core.User) []core.User {
	out := slices.Clone(users)
	slices.SortStableFunc(out, func(a, b core.User) int {
		c := compareBy(s.Column, a, b)
		if s.Direction == Descending {
			return -c
		}
		return c
	})
	return out
}

func compareBy(c Column, a, b core.User) int {
	switch c {
	case ColumnID:
		return strings.Compare(a.ID, b.ID)
	case ColumnName:
		return strings.Compare(a.Name, b.Name)
	case ColumnEmail:
		return strings.Compare(a.Email, b.Email)
	case ColumnStatus:
		return strings.Compare(string(a.Status), string(b.Status))
	case ColumnBlocked:
		return compareBool(a.Blocked, b.Blocked)
	case ColumnBudget:
		return cmp.Compare(a.Budget, b.Budget)
	default:
		return 0
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
