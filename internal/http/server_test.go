package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockadmin/internal/core"
	"stockadmin/internal/metrics"
	"stockadmin/internal/store/memory"
	"stockadmin/internal/table"
)

type harness struct {
	t      *testing.T
	srv    *Server
	store  *memory.Store
	feed   *Feed
	cookie *http.Cookie
}

func newHarness(t *testing.T, checks map[string]Check) *harness {
	t.Helper()
	st := memory.New(memory.DemoData())
	m := metrics.New(nil)

	feed := NewFeed(st, m)
	require.NoError(t, feed.Start(context.Background()))
	t.Cleanup(feed.Stop)

	sessions := table.NewRegistry(100, time.Hour, table.Options{
		Updater:           st,
		HighlightDuration: time.Hour,
		Recorder:          m,
	})
	srv := NewServer(Options{Addr: ":0", Feed: feed, Sessions: sessions, Metrics: m, Checks: checks})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &harness{t: t, srv: srv, store: st, feed: feed}
}

// do sends a request carrying the harness session cookie, keeping the one
// issued on first contact.
func (h *harness) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if h.cookie != nil {
		req.AddCookie(h.cookie)
	}
	rr := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookie {
			h.cookie = c
		}
	}
	return rr
}

func (h *harness) session() *table.Session {
	h.t.Helper()
	require.NotNil(h.t, h.cookie, "no session cookie issued")
	sess, ok := h.srv.sessions.Lookup(h.cookie.Value)
	require.True(h.t, ok)
	return sess
}

func (h *harness) user(id string) core.User {
	h.t.Helper()
	u, ok := h.feed.User(id)
	require.True(h.t, ok, "user %s not in feed", id)
	return u
}

func TestUsersPage(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()

	assert.Contains(t, body, `id="users-table"`)
	assert.Contains(t, body, "Alice Rossi")
	assert.Contains(t, body, "$12500.00")
	assert.NotContains(t, body, "changeme", "password must never be rendered")
	assert.NotContains(t, body, `class="modal"`)
	require.NotNil(t, h.cookie)
	assert.True(t, h.cookie.HttpOnly)

	// Default order is by name ascending.
	assert.Less(t, strings.Index(body, "Alice Rossi"), strings.Index(body, "Bruno Verdi"))
	assert.Less(t, strings.Index(body, "Bruno Verdi"), strings.Index(body, "Carla Neri"))

	// The same browser keeps its session.
	first := h.cookie.Value
	h.do(http.MethodGet, "/", nil)
	assert.Equal(t, first, h.cookie.Value)
	assert.Equal(t, 1, h.srv.sessions.Len())
}

func TestChartsPage(t *testing.T) {
	h := newHarness(t, nil)
	rr := h.do(http.MethodGet, "/charts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `id="pie-chart"`)
	assert.Contains(t, rr.Body.String(), `id="bar-chart"`)
}

func TestUsersTableSort(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodGet, "/ui/users-table?sort=budget", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Less(t, strings.Index(body, "Carla Neri"), strings.Index(body, "Bruno Verdi"))
	assert.Less(t, strings.Index(body, "Bruno Verdi"), strings.Index(body, "Alice Rossi"))
	assert.NotContains(t, body, "hx-swap-oob")

	rr = h.do(http.MethodGet, "/ui/users-table?sort=budget", nil)
	body = rr.Body.String()
	assert.Less(t, strings.Index(body, "Alice Rossi"), strings.Index(body, "Carla Neri"))
	assert.Equal(t, table.Descending, h.session().State().Sort.Direction)

	rr = h.do(http.MethodGet, "/ui/users-table?sort=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestToggleBlockedWritesAndHighlights(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodGet, "/", nil)
	require.False(t, h.user("u2").Blocked)

	rr := h.do(http.MethodPost, "/ui/users/u2/toggle-blocked", url.Values{})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "row-highlighted")

	sess := h.session()
	sess.Wait()
	assert.True(t, h.user("u2").Blocked)
	assert.Equal(t, "u2", sess.State().Highlight.ID)
	assert.False(t, sess.State().Modal.Open, "toggle must not open the editor")

	rr = h.do(http.MethodPost, "/ui/users/u1/toggle-status", url.Values{})
	require.Equal(t, http.StatusOK, rr.Code)
	sess.Wait()
	assert.Equal(t, core.StatusUser, h.user("u1").Status)
	assert.Equal(t, "u1", sess.State().Highlight.ID)

	rr = h.do(http.MethodPost, "/ui/users/ghost/toggle-blocked", url.Values{})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHoverRendersRow(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodPost, "/ui/users/u3/hover", url.Values{})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "row-hovered")
	assert.Equal(t, "u3", h.session().State().Hovered)

	rr = h.do(http.MethodPost, "/ui/users/u3/unhover", url.Values{})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "row-hovered")
	assert.Empty(t, h.session().State().Hovered)
}

func TestEditFlow(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodPost, "/ui/edit/field", url.Values{"field": {"name"}, "value": {"X"}})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = h.do(http.MethodGet, "/ui/users/u2/edit", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `value="Bruno Verdi"`)
	assert.NotContains(t, rr.Body.String(), "changeme")

	rr = h.do(http.MethodPost, "/ui/edit/field", url.Values{"field": {"name"}, "value": {"Bruno Bianchi"}})
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = h.do(http.MethodPost, "/ui/edit/field", url.Values{"field": {"password"}, "value": {" s3cret "}})
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = h.do(http.MethodPost, "/ui/edit/field", url.Values{"field": {"budget"}, "value": {"1"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// Nothing is written before save.
	assert.Equal(t, "Bruno Verdi", h.user("u2").Name)

	rr = h.do(http.MethodPost, "/ui/edit/save", url.Values{})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("HX-Trigger"), "modal:closed")
	assert.NotContains(t, rr.Body.String(), `class="modal"`)

	h.session().Wait()
	u := h.user("u2")
	assert.Equal(t, "Bruno Bianchi", u.Name)
	assert.Equal(t, " s3cret ", u.Password)
	assert.Equal(t, 830.5, u.Budget)

	rr = h.do(http.MethodPost, "/ui/edit/save", url.Values{})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestEditKeepsValuesAsTyped(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodGet, "/ui/users/u3/edit", nil)

	rr := h.do(http.MethodPost, "/ui/edit/field", url.Values{"field": {"name"}, "value": {"  Spaced\x00  "}})
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = h.do(http.MethodPost, "/ui/edit/save", url.Values{})
	require.Equal(t, http.StatusOK, rr.Code)

	h.session().Wait()
	assert.Equal(t, "  Spaced  ", h.user("u3").Name)
}

func TestCancelEditDiscards(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodGet, "/ui/users/u1/edit", nil)
	h.do(http.MethodPost, "/ui/edit/field", url.Values{"field": {"email"}, "value": {"new@example.com"}})

	rr := h.do(http.MethodPost, "/ui/edit/cancel", url.Values{})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("HX-Trigger"), "modal:closed")

	h.session().Wait()
	assert.Equal(t, "alice@example.com", h.user("u1").Email)
	assert.False(t, h.session().State().Modal.Open)
}

func TestCopiedNotifications(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodPost, "/ui/users/u1/copied", url.Values{"error": {""}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("HX-Trigger"), msgCopied)

	rr = h.do(http.MethodPost, "/ui/users/u1/copied", url.Values{"error": {"denied"}})
	require.Equal(t, http.StatusOK, rr.Code)
	trigger := rr.Header().Get("HX-Trigger")
	assert.Contains(t, trigger, "Failed to copy text: denied")
	assert.Contains(t, trigger, `"type":"error"`)
}

func TestChartsJSON(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodGet, "/ui/charts.json", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	var payload chartsPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.True(t, payload.Ready)
	require.Len(t, payload.Pie, 2)
	require.Len(t, payload.Bar, 3)

	byName := map[string]int64{}
	for _, s := range payload.Pie {
		byName[s.Name] = s.Value
	}
	assert.Equal(t, int64(15), byName["Acme Corp"])
	assert.Equal(t, int64(3), byName["Globex"])
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	rr = h.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	failing := newHarness(t, map[string]Check{
		"database": func(context.Context) error { return assert.AnError },
	})
	rr = failing.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "database")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodGet, "/", nil)

	rr := h.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `stockadmin_snapshots_received_total{collection="users"}`)
	assert.Contains(t, rr.Body.String(), `stockadmin_http_requests_total{code="200",route="GET /{$}"} 1`)
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	h := newHarness(t, nil)
	rr := h.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestStaticAssets(t *testing.T) {
	h := newHarness(t, nil)
	rr := h.do(http.MethodGet, "/static/app.js", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "show-notification")
}

func TestLiveRejectsUnknownView(t *testing.T) {
	h := newHarness(t, nil)
	rr := h.do(http.MethodGet, "/ws?view=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(http.MethodGet, "/ws?view=table", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "table view needs a session")
}

func TestLiveTablePushesUserChanges(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodGet, "/", nil)

	ts := httptest.NewServer(h.srv.Handler)
	defer ts.Close()

	header := http.Header{}
	header.Set("Cookie", h.cookie.Name+"="+h.cookie.Value)
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?view=table", header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	// First frame is the current table.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `hx-swap-oob="true"`)
	assert.Contains(t, string(msg), "Carla Neri")

	require.NoError(t, h.store.Update(context.Background(), core.CollectionUsers, "u3", core.Patch{core.FieldName: "Carla Gialli"}))

	// A timed out read corrupts the connection, so keep one deadline and
	// skip frames rendered before the update landed.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		if strings.Contains(string(msg), "Carla Gialli") {
			break
		}
	}
}

func TestLiveChartsSendsPayload(t *testing.T) {
	h := newHarness(t, nil)
	ts := httptest.NewServer(h.srv.Handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?view=charts", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var payload chartsPayload
	require.NoError(t, conn.ReadJSON(&payload))
	assert.Equal(t, "charts", payload.Type)
	assert.True(t, payload.Ready)
}
