package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/scriptreel/api/internal/model"
)

// Replayer supplies the durable event history for an item, pushed to a
// client on connect before live events resume.
type Replayer interface {
	Replay(ctx context.Context, userID, itemID string) ([]model.StageEvent, error)
}

// Client represents a WebSocket client watching one item
type Client struct {
	UserID string
	ItemID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub maintains active WebSocket connections grouped by item.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	replayer Replayer

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	ItemID  string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(replayer Replayer) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		replayer:   replayer,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.ItemID] == nil {
				h.clients[client.ItemID] = make(map[*Client]bool)
			}
			h.clients[client.ItemID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for item %s", client.ItemID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.ItemID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.ItemID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from item %s", client.ItemID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.ItemID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast fans a pipeline event out to the item's live subscribers.
// Item-less events (batch scouting, budget notices) have no subscriber key
// and are only written to the durable log.
func (h *Hub) Broadcast(ev model.StageEvent) {
	if ev.ItemID == "" {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Failed to marshal event: %v", err)
		return
	}
	h.broadcast <- &BroadcastMessage{
		ItemID:  ev.ItemID,
		Message: data,
	}
}

// HandleConnection handles a WebSocket connection for one item. The durable
// history is replayed first so a reconnecting client rebuilds progress.
func (h *Hub) HandleConnection(c *websocket.Conn, userID, itemID string) {
	client := &Client{
		UserID: userID,
		ItemID: itemID,
		Conn:   c,
		Send:   make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	if h.replayer != nil {
		history, err := h.replayer.Replay(context.Background(), userID, itemID)
		if err != nil {
			log.Printf("Failed to replay events for item %s: %v", itemID, err)
		}
		for _, ev := range history {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			client.Send <- data
		}
	}

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.Send <- data
		}
	}
}
