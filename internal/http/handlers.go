package http

import (
	"errors"
	"net/http"

	"stockadmin/internal/core"
	"stockadmin/internal/log"
	"stockadmin/internal/table"
)

const (
	msgCopied     = "User ID copied to clipboard!"
	msgCopyFailed = "Failed to copy text: "
)

func (s *Server) handleUsersPage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	users, loaded := s.feed.Users()

	data := pageView{
		Title:  "Users",
		Active: "users",
		Table:  newTableView(sess, users, loaded),
		Modal:  newModalView(sess.State().Modal),
	}
	s.renderPage(w, r, "users.html", data)
}

func (s *Server) handleChartsPage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, "charts.html", pageView{Title: "Charts", Active: "charts"})
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, name string, data pageView) {
	if s.templates == nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Templates not loaded",
			log.FieldPath, r.URL.Path,
			log.FieldComponent, log.ComponentTemplate)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	body, err := renderTemplate(s.templates, name, data)
	if err != nil {
		s.events.LogError(r.Context(), "Page render failed", err, log.ComponentTemplate, log.OpRender, nil)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	NewHTMXResponse().BodyHTML(body).Write(w)
}

// handleUsersTable returns the table partial, applying ?sort= first.
func (s *Server) handleUsersTable(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)

	col, ok, err := parseSortParam(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if ok {
		if err := sess.Dispatch(r.Context(), table.SortBy{Column: col}); err != nil {
			BadRequestError(err.Error()).Write(w)
			return
		}
	}
	s.writeTable(w, r, sess, false)
}

func (s *Server) writeTable(w http.ResponseWriter, r *http.Request, sess *table.Session, oob bool) {
	body, err := s.renderTable(sess, oob)
	if err != nil {
		s.events.LogError(r.Context(), "Table render failed", err, log.ComponentTemplate, log.OpRender, nil)
		InternalServerError("Could not render the users table").Write(w)
		return
	}
	NewHTMXResponse().BodyHTML(body).Write(w)
}

func (s *Server) renderTable(sess *table.Session, oob bool) ([]byte, error) {
	users, loaded := s.feed.Users()
	v := newTableView(sess, users, loaded)
	v.OOB = oob
	return renderTemplate(s.templates, "users_table", v)
}

// writeRow answers row interactions with the re-rendered row.
func (s *Server) writeRow(w http.ResponseWriter, r *http.Request, sess *table.Session, u core.User) {
	row := table.Row{User: u, State: sess.State().Row(u.ID)}
	body, err := renderTemplate(s.templates, "user_row", newRowView(row))
	if err != nil {
		s.events.LogError(r.Context(), "Row render failed", err, log.ComponentTemplate, log.OpRender, nil)
		InternalServerError("Could not render the row").Write(w)
		return
	}
	NewHTMXResponse().BodyHTML(body).Write(w)
}

func (s *Server) handleHover(w http.ResponseWriter, r *http.Request) {
	s.rowEvent(w, r, func(u core.User) table.Event { return table.PointerEnter{ID: u.ID} })
}

func (s *Server) handleUnhover(w http.ResponseWriter, r *http.Request) {
	s.rowEvent(w, r, func(u core.User) table.Event { return table.PointerLeave{ID: u.ID} })
}

func (s *Server) handleToggleBlocked(w http.ResponseWriter, r *http.Request) {
	s.rowEvent(w, r, func(u core.User) table.Event { return table.ToggleBlocked{User: u} })
}

func (s *Server) handleToggleStatus(w http.ResponseWriter, r *http.Request) {
	s.rowEvent(w, r, func(u core.User) table.Event { return table.ToggleStatus{User: u} })
}

// rowEvent resolves {id} against the latest users snapshot, dispatches the
// event built from it and returns the row.
func (s *Server) rowEvent(w http.ResponseWriter, r *http.Request, build func(core.User) table.Event) {
	sess := s.session(w, r)
	u, ok := s.feed.User(r.PathValue("id"))
	if !ok {
		NotFoundError("User not found").Write(w)
		return
	}
	if err := sess.Dispatch(r.Context(), build(u)); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	s.writeRow(w, r, sess, u)
}

func (s *Server) handleOpenEdit(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	u, ok := s.feed.User(r.PathValue("id"))
	if !ok {
		NotFoundError("User not found").Write(w)
		return
	}
	if err := sess.Dispatch(r.Context(), table.OpenEdit{User: u}); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	s.writeModal(w, r, sess, nil)
}

// handleEditField updates the modal's working copy only.
func (s *Server) handleEditField(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)

	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}
	// The working copy keeps values as typed.
	field := p.Get("field")
	value := stripControl(p.GetRaw("value"))
	if field == core.FieldPassword {
		value = p.GetRaw("value")
	}

	err := sess.Dispatch(r.Context(), table.EditField{Field: field, Value: value})
	switch {
	case errors.Is(err, table.ErrModalClosed):
		ConflictError("No user is being edited").Write(w)
	case err != nil:
		BadRequestError(err.Error()).Write(w)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSaveEdit(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	working := sess.State().Modal.Working

	err := sess.Dispatch(r.Context(), table.SaveEdit{})
	if errors.Is(err, table.ErrModalClosed) {
		ConflictError("No user is being edited").Write(w)
		return
	}
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "User edit saved",
		log.FieldSessionID, sess.ID,
		log.FieldUserID, working.ID)
	s.writeModal(w, r, sess, NewHTMXResponse().TriggerModalClosed())
}

func (s *Server) handleCancelEdit(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if err := sess.Dispatch(r.Context(), table.CancelEdit{}); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	s.writeModal(w, r, sess, NewHTMXResponse().TriggerModalClosed())
}

func (s *Server) writeModal(w http.ResponseWriter, r *http.Request, sess *table.Session, b *HTMXResponseBuilder) {
	body, err := renderTemplate(s.templates, "edit_modal", newModalView(sess.State().Modal))
	if err != nil {
		s.events.LogError(r.Context(), "Modal render failed", err, log.ComponentTemplate, log.OpRender, nil)
		InternalServerError("Could not render the editor").Write(w)
		return
	}
	if b == nil {
		b = NewHTMXResponse()
	}
	b.BodyHTML(body).Write(w)
}

// handleCopied turns the browser's clipboard outcome into a notice. The copy
// itself happens in the browser; an empty error means success.
func (s *Server) handleCopied(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}

	b := NewHTMXResponse()
	if reason := p.Get("error"); reason != "" {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Clipboard copy failed",
			log.FieldUserID, r.PathValue("id"),
			log.FieldError, reason)
		b.TriggerErrorNotification(msgCopyFailed + reason)
	} else {
		b.TriggerSuccessNotification(msgCopied)
	}
	b.Write(w)
}
