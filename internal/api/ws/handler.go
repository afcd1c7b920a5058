package ws

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxInbound = 512
)

// The stream is mounted behind the development guard only
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleConnection upgrades the request and streams transitions until the
// client goes away
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	cl := h.register()
	hello, err := sonic.Marshal(Message{
		Type:    "system",
		Message: "connected",
		Scripts: h.Statuses(),
	})
	if err != nil {
		h.logger.Error("failed to encode hello", zap.Error(err))
		h.unregister(cl)
		return
	}
	cl.send <- hello

	done := make(chan struct{})
	go h.writePump(conn, cl, done)
	h.readPump(conn, cl)
	<-done
}

// readPump answers pings and returns once the connection fails
func (h *Hub) readPump(conn *websocket.Conn, cl *client) {
	defer h.unregister(cl)

	conn.SetReadLimit(maxInbound)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("status stream read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.sendError(cl, "invalid message")
			continue
		}
		switch msg.Type {
		case "ping":
			h.sendJSON(cl, Message{Type: "pong"})
		case "snapshot":
			h.sendJSON(cl, Message{Type: "snapshot", Scripts: h.Statuses()})
		default:
			h.sendError(cl, "unknown message type")
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, cl *client, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()

	for {
		select {
		case data, ok := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) sendJSON(cl *client, msg Message) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; !ok {
		return
	}
	select {
	case cl.send <- data:
	default:
	}
}

func (h *Hub) sendError(cl *client, message string) {
	h.sendJSON(cl, Message{Type: "error", Message: message})
}
