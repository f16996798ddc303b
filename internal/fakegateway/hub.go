package fakegateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aint-no-code/reclaw-conformance/internal/observability"
	"github.com/aint-no-code/reclaw-conformance/internal/runs"
)

var (
	// ErrBufferFull is returned when a connection's send buffer is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrConnectionGone is returned when writing to an unregistered connection.
	ErrConnectionGone = errors.New("connection unregistered")
)

type connState int

const (
	connFresh connState = iota
	connReady
)

// Connection represents a single gateway WebSocket connection. Each connection
// owns its runs; session keys partition them further.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	// ctx ends when the connection is unregistered; it bounds waits and executors.
	ctx    context.Context
	cancel context.CancelFunc

	runs *runs.Registry

	mu         sync.Mutex
	state      connState
	sessionKey string
	idem       map[string]string
	closed     bool
	writeMu    sync.Mutex
}

// Hub manages all gateway connections.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	metrics     *observability.Metrics
}

// NewHub creates a new Hub.
func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		metrics:     metrics,
	}
}

// NewConnection wraps an upgraded socket.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:     uuid.New().String(),
		Conn:   ws,
		Send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
		runs:   runs.NewRegistry(),
		idem:   make(map[string]string),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
	}
}

// Unregister removes a connection, cancels its outstanding work and closes its
// send channel. Messages already queued are still flushed by the writer.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	_, ok := h.connections[conn.ID]
	delete(h.connections, conn.ID)
	h.mu.Unlock()
	if !ok {
		return
	}

	conn.cancel()
	conn.mu.Lock()
	conn.closed = true
	close(conn.Send)
	conn.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveConnections.Dec()
	}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// CloseAll unregisters every connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.Unregister(c)
	}
}

// Enqueue queues a frame for the writer.
func (c *Connection) Enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionGone
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.Conn.WriteMessage(messageType, data)
}

// Close closes the socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

func (c *Connection) handshakeState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) markReady(sessionKey string) {
	c.mu.Lock()
	c.state = connReady
	c.sessionKey = sessionKey
	c.mu.Unlock()
}

// session returns the session key bound by connect.
func (c *Connection) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey
}

// idempotent returns the run created earlier for key.
func (c *Connection) idempotent(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.idem[key]
	return id, ok
}

func (c *Connection) remember(key, runID string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	c.idem[key] = runID
	c.mu.Unlock()
}
