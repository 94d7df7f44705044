package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/bus"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Hub streams bus envelopes to websocket clients. It is a bus.Sink.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	// greeting, if set, is sent to every new client before live events.
	greeting func(ctx context.Context) []bus.Envelope

	mu      sync.RWMutex
	clients map[string]*wsClient
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub(greeting func(ctx context.Context) []bus.Envelope) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local control surface; the listener is loopback by default.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   log.WithComponent("events"),
		greeting: greeting,
		clients:  make(map[string]*wsClient),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Deliver fans one message out. Clients that cannot keep up are dropped.
func (h *Hub) Deliver(ctx context.Context, topic string, msg bus.Message) error {
	data, err := json.Marshal(bus.Envelope{Topic: topic, Data: msg})
	if err != nil {
		return err
	}
	h.mu.RLock()
	var slow []*wsClient
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.logger.Warn().Str("client", c.id).Msg("event client too slow, disconnecting")
		h.remove(c)
	}
	return nil
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and streams events until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}

	if h.greeting != nil {
		for _, env := range h.greeting(r.Context()) {
			if data, err := json.Marshal(env); err == nil {
				c.send <- data
			}
		}
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Debug().Str("client", c.id).Msg("event client connected")

	go h.writePump(c)
	h.readPump(c)
}

// readPump only watches for close and pong frames.
func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c)
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

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (h *Hub) remove(c *wsClient) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		close(c.send)
	})
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.remove(c)
	}
}
