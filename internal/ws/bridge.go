package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/playgambit/coordinator/internal/mux"
)

// Client represents one attached UI surface (a browser tab, a desktop window)
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Bridge fans coordinator events out to every attached UI surface. Surfaces
// can come and go freely; the multiplexer underneath keeps a single
// subscription regardless of how many are attached.
type Bridge struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// envelope is the wire shape pushed to UI surfaces
type envelope struct {
	Kind    mux.EventKind `json:"kind"`
	Payload any           `json:"payload"`
}

// NewBridge creates an empty bridge
func NewBridge() *Bridge {
	return &Bridge{clients: make(map[string]*Client)}
}

// Attach registers the bridge on every event kind the multiplexer carries.
// Returns a func that unregisters everything.
func (b *Bridge) Attach(m *mux.Multiplexer) func() {
	kinds := []mux.EventKind{
		mux.EventInviteReceived,
		mux.EventInviteStatusChanged,
		mux.EventFriendRequest,
		mux.EventMatchFound,
		mux.EventGameUpdated,
		mux.EventChatMessage,
	}

	offs := make([]func(), 0, len(kinds))
	for _, kind := range kinds {
		k := kind
		_, off := m.On(k, func(payload any) {
			b.Broadcast(k, payload)
		})
		offs = append(offs, off)
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Broadcast sends an event envelope to all attached surfaces
func (b *Bridge) Broadcast(kind mux.EventKind, payload any) {
	data, err := json.Marshal(envelope{Kind: kind, Payload: payload})
	if err != nil {
		log.Printf("[WS] error marshaling %s event: %v", kind, err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, client := range b.clients {
		select {
		case client.send <- data:
		default:
			// Surface is too slow; drop rather than block delivery
			log.Printf("[WS] dropping %s event for slow client %s", kind, client.id)
		}
	}
}

// Register adds a connection and starts its pumps
func (b *Bridge) Register(conn *websocket.Conn) *Client {
	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	b.mu.Lock()
	b.clients[client.id] = client
	b.mu.Unlock()

	go client.writePump()
	go b.readPump(client)

	log.Printf("[WS] surface %s attached", client.id)
	return client
}

func (b *Bridge) unregister(client *Client) {
	b.mu.Lock()
	if _, ok := b.clients[client.id]; ok {
		delete(b.clients, client.id)
		close(client.send)
	}
	b.mu.Unlock()
	client.conn.Close()
	log.Printf("[WS] surface %s detached", client.id)
}

// Count returns the number of attached surfaces
func (b *Bridge) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readPump discards inbound frames; the bridge is push-only. It exists to
// detect the close handshake.
func (b *Bridge) readPump(client *Client) {
	defer b.unregister(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
