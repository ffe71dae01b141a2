package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kicker-achievements/internal/domain"
)

// Message types
const (
	MessageTypeAchievementUnlocked = "achievement_unlocked"
	MessageTypeSubscribe           = "subscribe"
	MessageTypeUnsubscribe         = "unsubscribe"
	MessageTypeSubscribed          = "subscribed"
	MessageTypeUnsubscribed        = "unsubscribed"
	MessageTypeError               = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	KickerID  string      `json:"kicker_id,omitempty"`
	PlayerID  string      `json:"player_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// topic is what a client subscribes to: a kicker's unlocks or one player's
type topic struct {
	kind string
	id   string
}

func kickerTopic(id string) topic { return topic{kind: "kicker", id: id} }
func playerTopic(id string) topic { return topic{kind: "player", id: id} }

// topicsFor returns the topics named by a kicker id and a player id; empty
// ids name nothing
func topicsFor(kickerID, playerID string) []topic {
	var topics []topic
	if kickerID != "" {
		topics = append(topics, kickerTopic(kickerID))
	}
	if playerID != "" {
		topics = append(topics, playerTopic(playerID))
	}
	return topics
}

// Hub maintains the set of active clients and fans unlocks out to them
type Hub struct {
	// Subscribed clients by topic
	clients map[topic]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register      chan *Client
	unregister    chan *Client
	broadcast     chan *Message
	subscriptions chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	topics []topic
	add    bool
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:       make(map[topic]map[*Client]bool),
		allClients:    make(map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *Message, 256),
		subscriptions: make(chan *subscriptionRequest, 64),
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for t, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, t)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscriptions:
			h.applySubscription(req)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// applySubscription adds or removes a client on each requested topic. A
// client that already left the hub is not subscribed again.
func (h *Hub) applySubscription(req *subscriptionRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if req.add && !h.allClients[req.client] {
		return
	}
	for _, t := range req.topics {
		if req.add {
			if _, ok := h.clients[t]; !ok {
				h.clients[t] = make(map[*Client]bool)
			}
			h.clients[t][req.client] = true
		} else if clients, ok := h.clients[t]; ok {
			delete(clients, req.client)
			if len(clients) == 0 {
				delete(h.clients, t)
			}
		}
		h.logger.Debug("subscription changed", "client_id", req.client.id, "topic", t.kind, "id", t.id, "subscribed", req.add)
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the clients subscribed to its kicker
// or its player. A client subscribed to both receives it once.
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := make(map[*Client]bool)
	for client := range h.clients[kickerTopic(message.KickerID)] {
		targets[client] = true
	}
	for client := range h.clients[playerTopic(message.PlayerID)] {
		targets[client] = true
	}

	for client := range targets {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// Name implements feed.Sink
func (h *Hub) Name() string {
	return "websocket"
}

// Deliver implements feed.Sink by queueing an achievement_unlocked message
func (h *Hub) Deliver(ctx context.Context, n domain.UnlockNotification) error {
	message := &Message{
		Type:      MessageTypeAchievementUnlocked,
		KickerID:  n.KickerID,
		PlayerID:  n.PlayerID,
		Data:      n,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to the unlock streams of a kicker, a player, or
// both. Empty ids are ignored.
func (h *Hub) Subscribe(client *Client, kickerID, playerID string) {
	h.subscriptions <- &subscriptionRequest{client: client, topics: topicsFor(kickerID, playerID), add: true}
}

// Unsubscribe removes a client from the named unlock streams
func (h *Hub) Unsubscribe(client *Client, kickerID, playerID string) {
	h.subscriptions <- &subscriptionRequest{client: client, topics: topicsFor(kickerID, playerID)}
}

// GetSubscriberCount returns the number of subscribers for a kicker
func (h *Hub) GetSubscriberCount(kickerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[kickerTopic(kickerID)])
}

// GetPlayerSubscriberCount returns the number of subscribers for a player
func (h *Hub) GetPlayerSubscriberCount(playerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[playerTopic(playerID)])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
