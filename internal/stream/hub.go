// Package stream pushes accepted telemetry to websocket clients.
package stream

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Source publishes accepted readings.
type Source interface {
	Subscribe(buffer int) (<-chan telemetry.Reading, func())
}

// Filter narrows a client's feed. Empty fields match everything.
type Filter struct {
	SensorID string
	Metric   telemetry.Metric
}

// Match reports whether r passes the filter.
func (f Filter) Match(r telemetry.Reading) bool {
	if f.SensorID != "" && !strings.EqualFold(f.SensorID, r.SensorID) {
		return false
	}
	if f.Metric != "" && f.Metric != r.Metric {
		return false
	}
	return true
}

type client struct {
	filter Filter
	send   chan telemetry.Reading
	once   sync.Once
	done   chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans readings out to connected websocket clients. A client that falls
// a full buffer behind is disconnected.
type Hub struct {
	source   Source
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// Option customises a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		if fn != nil {
			h.upgrader.CheckOrigin = fn
		}
	}
}

// NewHub builds a hub fed by source.
func NewHub(source Source, opts ...Option) *Hub {
	h := &Hub{
		source:  source,
		logger:  zap.NewNop(),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start subscribes to the source and broadcasts until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	readings, cancel := h.source.Subscribe(1024)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				h.closeAll()
				return
			case r, ok := <-readings:
				if !ok {
					h.closeAll()
					return
				}
				h.Broadcast(r)
			}
		}
	}()
}

// Broadcast queues r for every matching client.
func (h *Hub) Broadcast(r telemetry.Reading) {
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if !c.filter.Match(r) {
			continue
		}
		select {
		case c.send <- r:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Info("dropping slow stream client")
		h.remove(c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler upgrades the request and streams readings matching the sensor and
// metric query parameters.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := Filter{
			SensorID: strings.TrimSpace(c.Query("sensor")),
			Metric:   telemetry.Metric(strings.ToLower(strings.TrimSpace(c.Query("metric")))),
		}
		if filter.Metric != "" {
			if _, ok := telemetry.Lookup(filter.Metric); !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown metric"})
				return
			}
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		cl := &client{filter: filter, send: make(chan telemetry.Reading, sendBuffer), done: make(chan struct{})}
		h.add(cl)
		go h.readPump(conn, cl)
		h.writePump(conn, cl)
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	defer h.remove(c)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
		_ = conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case r := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(r); err != nil {
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
