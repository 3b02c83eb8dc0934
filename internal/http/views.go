package http

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"

	"stockadmin/internal/core"
	"stockadmin/internal/table"
)

var columnLabels = map[table.Column]string{
	table.ColumnID:      "ID",
	table.ColumnName:    "Name",
	table.ColumnEmail:   "Email",
	table.ColumnStatus:  "Status",
	table.ColumnBlocked: "Blocked",
	table.ColumnBudget:  "Budget",
}

type columnView struct {
	Name   string
	Label  string
	Active bool
	Dir    string
}

type rowView struct {
	ID      string
	Name    string
	Email   string
	Status  string
	Budget  string
	Blocked bool
	Admin   bool
	// State is the row CSS modifier: "", "hovered" or "highlighted".
	State string
}

type tableView struct {
	Columns []columnView
	Rows    []rowView
	Loading bool
	OOB     bool
}

type modalView struct {
	Open  bool
	ID    string
	Name  string
	Email string
}

type pageView struct {
	Title  string
	Active string
	Table  tableView
	Modal  modalView
}

func newTableView(sess *table.Session, users []core.User, loaded bool) tableView {
	st := sess.State()
	v := tableView{Loading: !loaded}
	for _, c := range table.Columns {
		dir, active := st.Sort.DirectionFor(c)
		v.Columns = append(v.Columns, columnView{
			Name:   string(c),
			Label:  columnLabels[c],
			Active: active,
			Dir:    dir.String(),
		})
	}
	for _, r := range sess.Rows(users) {
		v.Rows = append(v.Rows, newRowView(r))
	}
	return v
}

func newRowView(r table.Row) rowView {
	u := r.User
	v := rowView{
		ID:      u.ID,
		Name:    u.Name,
		Email:   u.Email,
		Status:  string(u.Status),
		Budget:  formatBudget(u.Budget),
		Blocked: u.Blocked,
		Admin:   u.Status.IsAdmin(),
	}
	switch r.State {
	case table.RowHighlighted:
		v.State = "highlighted"
	case table.RowHovered:
		v.State = "hovered"
	}
	return v
}

// newModalView never carries the password; the field always starts empty.
func newModalView(m table.Modal) modalView {
	if !m.Open {
		return modalView{}
	}
	return modalView{
		Open:  true,
		ID:    m.Working.ID,
		Name:  m.Working.Name,
		Email: m.Working.Email,
	}
}

func formatBudget(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}

func renderTemplate(t *template.Template, name string, data any) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("templates not loaded")
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("execute %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
