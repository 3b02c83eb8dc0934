package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockadmin/internal/table"
)

const sessionCookie = "stockadmin_session"

// session returns the table session of the browser, issuing a cookie for new
// browsers. Highlight changes of a fresh session are pushed to its live
// clients, since the highlight clears without a request.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *table.Session {
	id := ""
	if c, err := r.Cookie(sessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			id = c.Value
		}
	}
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   r.TLS != nil,
			MaxAge:   int((24 * time.Hour).Seconds()),
		})
	}

	sess, created := s.sessions.Get(id)
	if created {
		var (
			mu   sync.Mutex
			last table.Highlight
		)
		sess.OnChange(func(st table.State) {
			mu.Lock()
			changed := st.Highlight != last
			last = st.Highlight
			mu.Unlock()
			if changed {
				s.hub.Refresh(viewTable, sess.ID)
			}
		})
	}
	return sess
}

// existingSession is for the websocket endpoint, which cannot set cookies.
func (s *Server) existingSession(r *http.Request) (*table.Session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	return s.sessions.Lookup(c.Value)
}
