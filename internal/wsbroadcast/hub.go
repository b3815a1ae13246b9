// Package wsbroadcast fans out StateChange events to management API
// clients over WebSocket. One Hub goroutine owns the client set; callers
// publish events from any goroutine via Publish.
package wsbroadcast

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/strefethen/sonosstream/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Envelope is the wire shape of a broadcast message: the concrete
// StateChange's Go type name plus its JSON-encoded fields.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Hub maintains the set of connected clients and serializes StateChange
// events onto each client's send queue.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool

	publish    chan model.StateChange
	register   chan *client
	unregister chan *client
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// New returns a Hub; call Run in its own goroutine before ServeWS handles
// any requests.
func New() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		publish:    make(chan model.StateChange, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run drains registration and publish events until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case change := <-h.publish:
			h.broadcast(change)

		case <-stop:
			return
		}
	}
}

// Publish enqueues a StateChange for broadcast. Safe to call from any
// goroutine; non-blocking once the publish buffer is full (the change is
// dropped rather than stalling the caller).
func (h *Hub) Publish(change model.StateChange) {
	select {
	case h.publish <- change:
	default:
		log.Printf("wsbroadcast: publish buffer full, dropping %T", change)
	}
}

func (h *Hub) broadcast(change model.StateChange) {
	data, err := json.Marshal(change)
	if err != nil {
		log.Printf("wsbroadcast: marshal %T: %v", change, err)
		return
	}
	envelope, err := json.Marshal(Envelope{Type: typeName(change), Data: data})
	if err != nil {
		log.Printf("wsbroadcast: marshal envelope: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- envelope:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// ServeWS upgrades r to a WebSocket connection and registers it as a
// broadcast recipient until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsbroadcast: upgrade failed: %v", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 64)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames (clients of this hub are read-only
// subscribers) but is required to process control frames and notice
// disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func typeName(change model.StateChange) string {
	switch change.(type) {
	case model.VolumeChanged:
		return "VolumeChanged"
	case model.MuteChanged:
		return "MuteChanged"
	case model.PlaybackStateChanged:
		return "PlaybackStateChanged"
	case model.PositionChanged:
		return "PositionChanged"
	case model.TrackChanged:
		return "TrackChanged"
	case model.TransportInfoChanged:
		return "TransportInfoChanged"
	case model.GroupFormed:
		return "GroupFormed"
	case model.GroupDissolved:
		return "GroupDissolved"
	case model.CoordinatorChanged:
		return "CoordinatorChanged"
	case model.SpeakerJoinedGroup:
		return "SpeakerJoinedGroup"
	case model.SpeakerLeftGroup:
		return "SpeakerLeftGroup"
	case model.GroupTopologyChanged:
		return "GroupTopologyChanged"
	case model.SubscriptionError:
		return "SubscriptionError"
	default:
		return "Unknown"
	}
}
