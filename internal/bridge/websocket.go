package bridge

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 * 1024
)

// makeUpgrader accepts any origin when allowed is empty or "*". Requests
// without an Origin header come from non-browser clients and are accepted.
func makeUpgrader(allowed []string) websocket.Upgrader {
	allowAll := len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*")
	originSet := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		originSet[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || originSet[origin]
		},
	}
}

// wsConn adapts a gorilla connection to ClientConn. gorilla allows one
// concurrent writer, so every write holds mu.
type wsConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
	open atomic.Bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{id: uuid.NewString(), conn: conn}
	c.open.Store(true)
	return c
}

func (c *wsConn) ID() string   { return c.id }
func (c *wsConn) IsOpen() bool { return c.open.Load() }

func (c *wsConn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame with code and reason, then drops the socket.
func (c *wsConn) Close(code int, reason string) error {
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.mu.Lock()
	// Control frame payloads are limited to 125 bytes, two of them the code.
	if len(reason) > 123 {
		reason = reason[:123]
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.conn.Close()
}

// wsHandler upgrades requests and feeds each connection to the controller.
type wsHandler struct {
	controller *Controller
	upgrader   websocket.Upgrader
	logger     *pkgLogger.Logger
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := newWSConn(raw)
	h.logger.Debug("WebSocket connected", "remote", r.RemoteAddr, "session", conn.ID())

	h.controller.Open(conn)
	done := make(chan struct{})
	defer func() {
		close(done)
		h.controller.Close(conn)
		_ = conn.Close(websocket.CloseNormalClosure, "")
	}()

	raw.SetReadLimit(maxMessageSize)
	_ = raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(pongWait))
	})
	go h.keepAlive(conn, done)

	for {
		kind, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && conn.IsOpen() {
				h.logger.Warn("WebSocket read failed", "session", conn.ID(), "error", err)
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}
		h.controller.HandleText(conn, string(data))
	}
}

func (h *wsHandler) keepAlive(conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
