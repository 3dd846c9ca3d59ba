package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alexandrut83/sentinel/sentinel"
)

const (
	streamBuffer    = 256
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxClientMsgLen = 512
)

// streamClient is one websocket subscriber
type streamClient struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	remote   string
	lastSeen time.Time
}

func (c *streamClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// streamHub pushes every bus notification to the connected websocket clients
type streamHub struct {
	mu       sync.RWMutex
	bus      *sentinel.EventBus
	clients  map[*streamClient]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
	done     chan struct{}
	closed   sync.Once
}

func newStreamHub(bus *sentinel.EventBus, logger *zap.Logger) *streamHub {
	return &streamHub{
		bus:     bus,
		clients: make(map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.Named("stream"),
		done:   make(chan struct{}),
	}
}

// Run forwards notifications until Close
func (h *streamHub) Run() {
	ch, sub := h.bus.SubscribeChan(streamBuffer)
	defer h.bus.Unsubscribe(sub)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case n := <-ch:
			h.broadcast(n)
		case <-ticker.C:
			h.ping()
		case <-h.done:
			return
		}
	}
}

// broadcast sends n to every client, dropping the ones that fail
func (h *streamHub) broadcast(n sentinel.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("failed to encode notification", zap.Error(err))
		return
	}

	for _, c := range h.snapshot() {
		if err := c.write(websocket.TextMessage, data); err != nil {
			h.logger.Debug("dropping stream client", zap.String("remote", c.remote), zap.Error(err))
			h.remove(c)
		}
	}
}

// ping keeps idle connections alive and removes stale clients
func (h *streamHub) ping() {
	for _, c := range h.snapshot() {
		c.mu.Lock()
		stale := time.Since(c.lastSeen) > pongWait
		c.mu.Unlock()

		if stale || c.write(websocket.PingMessage, nil) != nil {
			h.remove(c)
		}
	}
}

func (h *streamHub) snapshot() []*streamClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *streamHub) remove(c *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		c.conn.Close()
	}
}

// Len returns the number of connected clients
func (h *streamHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client. The client may
// send nothing but control frames; anything it writes is discarded.
func (h *streamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &streamClient{conn: conn, remote: r.RemoteAddr, lastSeen: time.Now()}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		conn.Close()
		return
	default:
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("stream client connected", zap.String("remote", client.remote))
	go h.readPump(client)
}

// readPump tracks liveness until the connection drops
func (h *streamHub) readPump(c *streamClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxClientMsgLen)
	touch := func() {
		c.mu.Lock()
		c.lastSeen = time.Now()
		c.mu.Unlock()
	}
	c.conn.SetPongHandler(func(string) error {
		touch()
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		touch()
	}
}

// Close disconnects every client and stops Run
func (h *streamHub) Close() {
	h.closed.Do(func() {
		h.mu.Lock()
		close(h.done)
		clients := h.clients
		h.clients = make(map[*streamClient]struct{})
		h.mu.Unlock()

		for c := range clients {
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			c.conn.Close()
		}
	})
}
