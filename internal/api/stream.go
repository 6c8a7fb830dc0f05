// internal/api/stream.go
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thecyberginehost/moonforge/internal/events"
	"github.com/thecyberginehost/moonforge/internal/utils/metrics"
)

const (
	streamBuffer = 64
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// streamMessage is one frame sent to a stream client.
type streamMessage struct {
	Type events.EventType `json:"type"`
	Data events.Event     `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamHub tracks websocket clients so they can be closed on shutdown.
type streamHub struct {
	events  Subscriber
	metrics metrics.Recorder
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	tokenID string
	conn    *websocket.Conn
	send    chan streamMessage
	done    chan struct{}
	once    sync.Once
}

func newStreamHub(sub Subscriber, rec metrics.Recorder, logger *zap.Logger) *streamHub {
	return &streamHub{
		events:  sub,
		metrics: rec,
		logger:  logger.Named("stream"),
		clients: make(map[*streamClient]struct{}),
	}
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue never blocks the event bus; a slow client loses frames.
func (c *streamClient) enqueue(msg streamMessage) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (h *streamHub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.UpdateWebsocketConnections(n)
}

func (h *streamHub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.UpdateWebsocketConnections(n)
}

func (h *streamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
	}
}

func (s *Server) stream(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusNotImplemented, errorResponse{Error: "unavailable", Message: "event stream disabled"})
		return
	}
	tokenID := c.Param("id")
	if _, err := s.engine.Snapshot(c.Request.Context(), tokenID); err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.String("token_id", tokenID), zap.Error(err))
		return
	}

	client := &streamClient{
		tokenID: tokenID,
		conn:    conn,
		send:    make(chan streamMessage, streamBuffer),
		done:    make(chan struct{}),
	}
	s.streams.serve(client)
}

// serve subscribes the client and blocks until it disconnects.
func (h *streamHub) serve(client *streamClient) {
	log := h.logger.With(zap.String("token_id", client.tokenID))

	forward := events.ForToken(client.tokenID, func(_ context.Context, ev events.Event) error {
		if !client.enqueue(streamMessage{Type: ev.Type(), Data: ev}) {
			log.Warn("Stream client too slow, dropping event", zap.String("event_type", string(ev.Type())))
		}
		return nil
	})

	subs := []events.Subscription{
		h.events.SubscribeFunc(events.TradeSettled, forward),
		h.events.SubscribeFunc(events.TokenGraduated, forward),
	}
	h.add(client)
	log.Debug("Stream client connected")

	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		h.remove(client)
		_ = client.conn.Close()
		log.Debug("Stream client disconnected")
	}()

	go client.readPump()
	client.writePump(log)
}

// readPump discards client frames and closes the client when the peer goes away.
func (c *streamClient) readPump() {
	defer c.close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *streamClient) writePump(log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug("Stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(writeWait))
			return
		}
	}
}
