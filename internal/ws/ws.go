// Package ws upgrades deployment watchers to WebSocket and bridges them
// into the log broker as sinks.
package ws

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"unideploy/internal/logbroker"
	"unideploy/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Handler serves the per-deployment WebSocket endpoint.
type Handler struct {
	broker   *logbroker.Broker
	upgrader websocket.Upgrader
}

// NewHandler wires the handler to the broker. Origin checking follows
// the HTTP CORS allowlist.
func NewHandler(broker *logbroker.Broker, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
}

// client is one connected watcher. Frames flow through a bounded channel
// so a stalled connection never blocks the broadcaster. The send channel
// is never closed: a broadcaster may hold a subscriber snapshot taken
// before the disconnect, so teardown is signalled through done instead.
type client struct {
	conn *websocket.Conn
	send chan logbroker.Frame
	done chan struct{}
}

// Send implements logbroker.Sink. A full buffer means the client cannot
// keep up; the frame is dropped for this sink only.
func (c *client) Send(frame logbroker.Frame) error {
	select {
	case <-c.done:
		return errors.New("subscriber disconnected")
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errors.New("subscriber buffer full, frame dropped")
	}
}

// Serve handles GET /ws/deploy/:id.
func (h *Handler) Serve(c *gin.Context) {
	deploymentID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deployment id"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.S().Warnw("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{
		conn: conn,
		send: make(chan logbroker.Frame, sendBuffer),
		done: make(chan struct{}),
	}
	h.broker.Subscribe(uint(deploymentID), cl)

	go h.writePump(cl)
	h.readPump(uint(deploymentID), cl)
}

// readPump discards inbound text and detects disconnects.
func (h *Handler) readPump(deploymentID uint, cl *client) {
	defer func() {
		h.broker.Unsubscribe(deploymentID, cl)
		close(cl.done)
		cl.conn.Close()
	}()
	cl.conn.SetReadLimit(512)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()
	for {
		select {
		case frame := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-cl.done:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
