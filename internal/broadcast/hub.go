package broadcast

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxViewerFrame = 512
	viewerBuffer   = 64
)

// Hub serves the stream to browser viewers over websocket. Viewers are
// read-only: inbound frames other than control frames are discarded.
type Hub struct {
	stream   *Stream
	logger   *zap.Logger
	upgrader websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	clients    atomic.Int64
}

// Client is one connected viewer.
type Client struct {
	ID     string
	hub    *Hub
	conn   *websocket.Conn
	replay []Message
	out    <-chan Message
	cancel func()
}

// NewHub creates a Hub over stream. checkOrigin may be nil to accept only
// same-origin upgrades.
//
// Precondition: stream and logger must be non-nil.
func NewHub(stream *Stream, logger *zap.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		stream: stream,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run owns the client registry until ctx is cancelled, then disconnects
// every viewer.
func (h *Hub) Run(ctx context.Context) error {
	clients := make(map[*Client]struct{})
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			clients[c] = struct{}{}
			h.clients.Store(int64(len(clients)))
			h.logger.Info("viewer connected", zap.String("client_id", c.ID), zap.Int("viewers", len(clients)))
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				c.cancel()
				h.clients.Store(int64(len(clients)))
				h.logger.Info("viewer disconnected", zap.String("client_id", c.ID), zap.Int("viewers", len(clients)))
			}
		case <-ctx.Done():
			for c := range clients {
				c.cancel()
				_ = c.conn.Close()
			}
			h.clients.Store(0)
			return nil
		}
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	return int(h.clients.Load())
}

// ServeHTTP upgrades the request and streams messages until the viewer
// disconnects. The optional "since" query parameter resumes after a sequence
// number.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, "since must be a sequence number", http.StatusBadRequest)
			return
		}
		since = v
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	replay, out, cancel := h.stream.Subscribe(since, viewerBuffer)
	c := &Client{ID: uuid.NewString(), hub: h, conn: conn, replay: replay, out: out, cancel: cancel}

	select {
	case h.register <- c:
	case <-h.done:
		cancel()
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// readPump consumes control frames so pongs and close are processed.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxViewerFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("viewer read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for _, m := range c.replay {
		if err := c.write(m); err != nil {
			return
		}
	}
	c.replay = nil

	for {
		select {
		case m, ok := <-c.out:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resubscribe"))
				return
			}
			if err := c.write(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(m Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(m); err != nil {
		c.hub.logger.Debug("viewer write failed", zap.String("client_id", c.ID), zap.Error(err))
		return err
	}
	return nil
}
