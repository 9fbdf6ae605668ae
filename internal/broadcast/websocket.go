package broadcast

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendQueueSize  = 64
)

var (
	// ErrConnClosed is returned by Send once the connection is closing.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned by Send when the peer is not draining its queue.
	ErrSendQueueFull = errors.New("send queue full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dashboards are served from a different origin than the gateway.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSConn is a websocket subscriber. Outbound messages go through a bounded
// queue drained by a writer goroutine, so Send never blocks.
type WSConn struct {
	id     string
	ws     *websocket.Conn
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	state     atomic.Int32
	closeOnce sync.Once
}

// NewWSConn wraps an upgraded websocket and starts its writer.
func NewWSConn(ws *websocket.Conn, logger *slog.Logger) *WSConn {
	c := &WSConn{
		id:     uuid.NewString(),
		ws:     ws,
		logger: logger,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
	go c.writePump()
	return c
}

// ID returns the connection's unique id.
func (c *WSConn) ID() string {
	return c.id
}

// State returns the current liveness state.
func (c *WSConn) State() State {
	return State(c.state.Load())
}

// Send queues payload for delivery.
func (c *WSConn) Send(payload []byte) error {
	if c.State() != StateOpen {
		return ErrConnClosed
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close starts an orderly shutdown; the writer sends a close frame and
// releases the socket. It is safe to call more than once.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
		close(c.done)
	})
	return nil
}

// readPump discards client frames and returns when the peer goes away.
func (c *WSConn) readPump(onClose func()) {
	defer func() {
		onClose()
		_ = c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "connection_id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.state.Store(int32(StateClosed))
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("websocket write failed", "connection_id", c.id, "error", err)
				_ = c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}

		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// ServeWS upgrades the request to a websocket and registers it with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := NewWSConn(ws, h.logger)
	if err := h.Register(conn); err != nil {
		h.logger.Warn("failed to register subscriber", "connection_id", conn.ID(), "error", err)
		_ = conn.Close()
		return
	}

	go conn.readPump(func() { h.Unregister(conn.ID()) })
}
