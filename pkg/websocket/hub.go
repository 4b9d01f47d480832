package websocket

import (
	"log"
	"sync"
)

// MessageHandler is a function that handles incoming messages
type MessageHandler func(*Client, *Message)

// Hub is the Connection Registry: the authoritative map from identity to its
// single live connection handle. Re-registration under an identity already
// present replaces the prior handle (last-wins), closing its send channel so
// its read/write pumps unwind on their own.
type Hub struct {
	clients map[string]*Client

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Broadcast messages to specific users or everyone
	Broadcast chan *BroadcastMessage

	// Message handlers by event name
	handlers map[string]MessageHandler

	// onRegister/onUnregister let callers react to presence changes (e.g.
	// to update the position store's connection pointer) without the hub
	// knowing anything about dispatch semantics.
	onRegister   func(*Client)
	onUnregister func(*Client)

	mu sync.RWMutex
}

// BroadcastMessage represents a message to be broadcast
type BroadcastMessage struct {
	Target   string // "user" or "all"
	TargetID string // identity, when Target == "user"
	Message  *Message
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *BroadcastMessage, 256),
		handlers:   make(map[string]MessageHandler),
	}
}

// OnPresenceChange registers callbacks invoked synchronously from the hub's
// run loop whenever a client attaches or detaches. Callbacks must not block.
func (h *Hub) OnPresenceChange(onRegister, onUnregister func(*Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRegister = onRegister
	h.onUnregister = onUnregister
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	log.Println("connection registry started")
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case broadcast := <-h.Broadcast:
			h.broadcastMessage(broadcast)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if existingClient, ok := h.clients[client.ID]; ok {
		close(existingClient.Send)
	}
	h.clients[client.ID] = client
	onRegister := h.onRegister
	h.mu.Unlock()

	log.Printf("client registered: %s (role: %s)", client.ID, client.Role)
	if onRegister != nil {
		onRegister(client)
	}
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.ID]
	if ok && current == client {
		delete(h.clients, client.ID)
	}
	onUnregister := h.onUnregister
	h.mu.Unlock()

	if !ok || current != client {
		// already replaced by a newer registration; nothing to close
		return
	}

	close(client.Send)
	log.Printf("client unregistered: %s", client.ID)
	if onUnregister != nil {
		onUnregister(client)
	}
}

// broadcastMessage sends a message to target clients
func (h *Hub) broadcastMessage(broadcast *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch broadcast.Target {
	case "user":
		if client, ok := h.clients[broadcast.TargetID]; ok {
			client.SendMessage(broadcast.Message)
		}
	case "all":
		for _, client := range h.clients {
			client.SendMessage(broadcast.Message)
		}
	}
}

// HandleMessage routes incoming messages to appropriate handlers
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	h.mu.RLock()
	handler, exists := h.handlers[msg.Event]
	h.mu.RUnlock()

	if exists {
		handler(client, msg)
	} else {
		log.Printf("no handler for event: %s", msg.Event)
	}
}

// RegisterHandler registers a message handler for a specific event
func (h *Hub) RegisterHandler(event string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = handler
	log.Printf("registered handler for event: %s", event)
}

// SendToUser sends a message to a specific identity, if currently connected.
func (h *Hub) SendToUser(userID string, msg *Message) {
	h.Broadcast <- &BroadcastMessage{
		Target:   "user",
		TargetID: userID,
		Message:  msg,
	}
}

// SendToAll broadcasts a message to all connected clients
func (h *Hub) SendToAll(msg *Message) {
	h.Broadcast <- &BroadcastMessage{
		Target:  "all",
		Message: msg,
	}
}

// GetClient returns a client by ID
func (h *Hub) GetClient(clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[clientID]
	return client, ok
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
