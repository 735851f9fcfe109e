package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/collab"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// socketClient adapts one websocket connection to collab.Sink. Outbound
// events are queued to a single writer goroutine; a client whose queue is
// full is disconnected instead of stalling the room.
type socketClient struct {
	conn     *websocket.Conn
	outbound chan collab.Event
	done     chan struct{}
	once     sync.Once
	logger   *zap.Logger
}

func newSocketClient(conn *websocket.Conn, bufferSize int, logger *zap.Logger) *socketClient {
	return &socketClient{
		conn:     conn,
		outbound: make(chan collab.Event, bufferSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Send implements collab.Sink.
func (c *socketClient) Send(event collab.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbound <- event:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("outbound buffer full, disconnecting client", zap.String("event", event.Type))
		c.shutdown()
		return false
	}
}

func (c *socketClient) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *socketClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case event := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}

func (c *socketClient) readLoop(ctx context.Context, connection *collab.Connection) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		var message collab.Message
		if err := json.Unmarshal(frame, &message); err != nil {
			connection.RejectFrame(err)
			continue
		}
		_ = connection.HandleMessage(ctx, message)
	}
}

func (h *httpHandler) handleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	logger := h.logger.With(zap.String("connection_id", uuid.NewString()))
	client := newSocketClient(conn, h.outboundBuffer, logger)
	connection := h.engine.Connect(client, h.sessions.RequestCredential(c.Request))
	go client.writeLoop()

	ctx := context.WithoutCancel(c.Request.Context())
	client.readLoop(ctx, connection)
	connection.Leave(ctx)
	client.shutdown()
	logger.Debug("websocket connection finished")
}
