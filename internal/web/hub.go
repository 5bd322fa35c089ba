package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/torchrec/internal/debug"
	"github.com/cjeanneret/torchrec/internal/logic/capture"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// Hub fans recorder events out to every method-channel client and to the
// SSE status stream. It is the recorder's Notifier.
type Hub struct {
	events *StatusBroadcaster

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub publishing to events (may be nil).
func NewHub(events *StatusBroadcaster) *Hub {
	return &Hub{events: events, clients: make(map[*client]struct{})}
}

// SegmentSaved sends the segmentSaved event to all clients.
func (h *Hub) SegmentSaved(path string) {
	data, err := json.Marshal(Event{Method: MethodSegmentSaved, Arguments: path})
	if err != nil {
		return
	}
	h.broadcast(data)
	if h.events != nil {
		h.events.Publish(KindSegment, path)
	}
}

// StateChanged publishes a recorder transition on the status stream.
func (h *Hub) StateChanged(s capture.State) {
	if h.events != nil {
		h.events.Publish(KindState, s.String())
	}
}

// Clients returns the number of connected method-channel clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	debug.Verbose("Channel: client %s connected", c.conn.RemoteAddr())
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	debug.Verbose("Channel: client %s disconnected", c.conn.RemoteAddr())
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.queue(msg) {
			debug.Info("Channel: dropping slow client %s", c.conn.RemoteAddr())
			delete(h.clients, c)
			c.close()
		}
	}
}

// client is one websocket connection. Writes go through send so a single
// goroutine owns the connection's writer.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) queue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
