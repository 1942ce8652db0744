package hub

import (
	"sync"

	"go.uber.org/zap"
)

// Client is one websocket connection subscribed to a single channel
// (doctor:<id> or patient:<id>). Send is drained by the connection's write
// pump; the hub never blocks on it.
type Client struct {
	ID      string
	Channel string
	Send    chan []byte
}

// Hub routes published payloads to the clients subscribed to a channel. A
// doctor or patient may hold several connections (phone plus tablet), so
// channels map to client sets.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	log     *zap.Logger
}

func New(log *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		log:     log,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[client.Channel]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.Channel] = set
	}
	set[client] = struct{}{}
}

// Unregister drops the client and closes its send channel. Safe to call once
// per client; the connection's read pump owns the call.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[client.Channel]
	if !ok {
		return
	}
	if _, present := set[client]; !present {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.Channel)
	}
	close(client.Send)
}

// Publish fans a payload out to every client on the channel. Slow consumers
// get dropped messages, never backpressure into the Redis pump.
func (h *Hub) Publish(channel string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[channel] {
		select {
		case client.Send <- payload:
		default:
			h.log.Warn("message dropped for slow client",
				zap.String("client_id", client.ID),
				zap.String("channel", channel))
		}
	}
}

// Subscribers reports how many connections a channel currently holds.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[channel])
}
