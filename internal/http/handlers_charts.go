package http

import (
	"encoding/json"
	"net/http"

	"stockadmin/internal/charts"
)

type chartsPayload struct {
	Type  string         `json:"type"`
	Ready bool           `json:"ready"`
	Pie   []charts.Slice `json:"pie"`
	Bar   []charts.Bar   `json:"bar"`
}

func (s *Server) chartsPayload() chartsPayload {
	series, ready := s.feed.Charts()
	return chartsPayload{Type: "charts", Ready: ready, Pie: series.Pie, Bar: series.Bar}
}

func (s *Server) handleChartsJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, r, http.StatusOK, s.chartsPayload())
}

// handleLive streams view updates. The table view needs the session cookie
// set by the page that opened the socket.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	switch view := r.URL.Query().Get("view"); view {
	case viewTable:
		sess, ok := s.existingSession(r)
		if !ok {
			BadRequestError("Unknown session").Write(w)
			return
		}
		s.hub.Serve(w, r, viewTable, sess.ID, func() ([]byte, error) {
			return s.renderTable(sess, true)
		})
	case viewCharts:
		s.hub.Serve(w, r, viewCharts, "", func() ([]byte, error) {
			return json.Marshal(s.chartsPayload())
		})
	default:
		BadRequestError("Unknown view").Write(w)
	}
}
