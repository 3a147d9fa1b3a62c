package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"VitalsAI/go-backend/internal/models"
	"VitalsAI/go-backend/internal/services"
	"VitalsAI/go-backend/internal/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var (
	ErrClientClosed   = errors.New("websocket client closed")
	ErrSendBufferFull = errors.New("websocket send buffer full")
)

// SessionOpener is the part of the registry the websocket endpoint needs.
type SessionOpener interface {
	Open(id string, sink session.Sink) (*session.Actor, error)
}

// WebSocketClient is one browser connection. It is the event sink of the
// session actor opened for it.
type WebSocketClient struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	logger    *zap.Logger
	metrics   *services.Metrics

	mu     sync.Mutex
	closed bool
}

// Send encodes ev and queues it for the write pump without blocking the actor.
func (c *WebSocketClient) Send(ev models.Event) error {
	data, err := models.EncodeEvent(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.metrics.IncrementWebSocketErrors()
		return ErrSendBufferFull
	}
}

func (c *WebSocketClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// WebSocketHandler serves GET /ws?sessionId=.
type WebSocketHandler struct {
	sessions       SessionOpener
	metrics        *services.Metrics
	logger         *zap.Logger
	maxMessageSize int64
	upgrader       websocket.Upgrader
}

func NewWebSocketHandler(sessions SessionOpener, metrics *services.Metrics, maxMessageSize int64, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = services.GetMetrics()
	}
	return &WebSocketHandler{
		sessions:       sessions,
		metrics:        metrics,
		logger:         logger,
		maxMessageSize: maxMessageSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &WebSocketClient{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		metrics: h.metrics,
	}

	actor, err := h.sessions.Open(r.URL.Query().Get("sessionId"), client)
	if err != nil {
		h.logger.Warn("websocket session rejected", zap.Error(err))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}

	client.sessionID = actor.ID()
	client.logger = h.logger.With(zap.String("session_id", actor.ID()))
	h.metrics.IncrementWebSocketConnections()
	client.logger.Info("websocket client connected")

	// The send channel is closed only once the actor can no longer emit.
	go func() {
		<-actor.Done()
		client.close()
	}()

	go h.writePump(client)
	h.readPump(client, actor)
}

func (h *WebSocketHandler) readPump(client *WebSocketClient, actor *session.Actor) {
	defer func() {
		actor.Disconnect()
		h.metrics.DecrementWebSocketConnections()
		client.logger.Info("websocket client disconnected")
	}()

	if h.maxMessageSize > 0 {
		client.conn.SetReadLimit(h.maxMessageSize)
	}
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				client.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		h.metrics.IncrementWebSocketMessages()

		in, err := models.ParseInbound(kind == websocket.BinaryMessage, data)
		if err != nil {
			client.logger.Debug("ignoring inbound message", zap.Error(err))
			continue
		}

		switch err := actor.Deliver(context.Background(), in); {
		case err == nil:
		case errors.Is(err, session.ErrInboxFull):
			client.logger.Debug("frame dropped", zap.Int64("dropped", actor.Dropped()))
		case errors.Is(err, session.ErrSessionClosed):
			return
		default:
			client.logger.Warn("deliver failed", zap.Error(err))
		}
	}
}

func (h *WebSocketHandler) writePump(client *WebSocketClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.metrics.IncrementWebSocketErrors()
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
