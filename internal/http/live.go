package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"stockadmin/internal/log"
)

const (
	viewTable  = "table"
	viewCharts = "charts"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// LiveRecorder counts connected websocket clients.
type LiveRecorder interface {
	LiveClientConnected()
	LiveClientDisconnected()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// refresh asks every client of view to re-render. An empty session targets
// all sessions.
type refresh struct {
	view    string
	session string
}

// Hub tracks live clients and wakes them when their view is stale. Clients
// render for themselves, so a slow client never delays the others.
type Hub struct {
	clients    map[*liveClient]struct{}
	register   chan *liveClient
	unregister chan *liveClient
	broadcast  chan refresh
	closed     chan struct{}
	recorder   LiveRecorder
}

type liveClient struct {
	hub     *Hub
	conn    *websocket.Conn
	view    string
	session string
	render  func() ([]byte, error)
	// wake holds at most one pending refresh; extra ones coalesce.
	wake chan struct{}
	done chan struct{}
}

func NewHub(recorder LiveRecorder) *Hub {
	return &Hub{
		clients:    make(map[*liveClient]struct{}),
		register:   make(chan *liveClient),
		unregister: make(chan *liveClient),
		broadcast:  make(chan refresh, 256),
		closed:     make(chan struct{}),
		recorder:   recorder,
	}
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.closed)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			if h.recorder != nil {
				h.recorder.LiveClientConnected()
			}
			slog.Debug("Live client registered", log.FieldComponent, log.ComponentLive, "view", c.view, log.FieldSessionID, c.session)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case r := <-h.broadcast:
			for c := range h.clients {
				if c.view != r.view || (r.session != "" && c.session != r.session) {
					continue
				}
				c.poke()
			}
		}
	}
}

func (h *Hub) drop(c *liveClient) {
	delete(h.clients, c)
	close(c.done)
	if h.recorder != nil {
		h.recorder.LiveClientDisconnected()
	}
	slog.Debug("Live client unregistered", log.FieldComponent, log.ComponentLive, "view", c.view, log.FieldSessionID, c.session)
}

// Refresh never blocks; when the queue is full the refresh is dropped and the
// next one brings clients up to date.
func (h *Hub) Refresh(view, session string) {
	select {
	case h.broadcast <- refresh{view: view, session: session}:
	default:
		slog.Warn("Live refresh queue full, dropping refresh", "view", view)
	}
}

// Serve upgrades the connection and blocks until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, view, session string, render func() ([]byte, error)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "Failed to upgrade connection to WebSocket", log.FieldError, err)
		return
	}

	c := &liveClient{
		hub:     h,
		conn:    conn,
		view:    view,
		session: session,
		render:  render,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	select {
	case h.register <- c:
	case <-h.closed:
		conn.Close()
		return
	}
	c.poke()

	go c.writePump()
	c.readPump()
}

func (c *liveClient) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// readPump only watches for close and pong frames.
func (c *liveClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("Unexpected websocket close error", log.FieldError, err)
			}
			return
		}
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case <-c.wake:
			msg, err := c.render()
			if err != nil {
				slog.Error("Failed to render live update", "view", c.view, log.FieldError, err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Warn("Failed to write message to websocket", log.FieldError, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
