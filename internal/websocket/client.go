package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

// Browsers from any origin may watch the feed; the stream is read-only
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one WebSocket connection watching kicker or player unlocks
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage changes a client's subscriptions. It names a kicker, a
// player, or both.
type ClientMessage struct {
	Type     string `json:"type"`
	KickerID string `json:"kicker_id,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
}

// NewClient creates a client for an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With("client_id", id),
	}
}

// readPump applies subscription changes until the peer goes away
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket closed unexpectedly", "error", err)
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": "invalid message format"}})
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	if msg.Type != MessageTypeSubscribe && msg.Type != MessageTypeUnsubscribe {
		c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": "unknown message type " + msg.Type}})
		return
	}
	if msg.KickerID == "" && msg.PlayerID == "" {
		c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": "kicker_id or player_id required"}})
		return
	}

	ack := MessageTypeSubscribed
	if msg.Type == MessageTypeSubscribe {
		c.hub.Subscribe(c, msg.KickerID, msg.PlayerID)
	} else {
		c.hub.Unsubscribe(c, msg.KickerID, msg.PlayerID)
		ack = MessageTypeUnsubscribed
	}
	c.reply(Message{Type: ack, KickerID: msg.KickerID, PlayerID: msg.PlayerID})
}

// reply queues a message for this client only. It is dropped when the
// client is not keeping up.
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal reply", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client buffer full, reply dropped", "type", msg.Type)
	}
}

// writePump writes each queued message as its own text frame and keeps the
// connection alive with control pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// ServeWs upgrades the request and registers the client. The kicker_id and
// player_id query parameters subscribe it right away.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	q := r.URL.Query()
	if kickerID, playerID := q.Get("kicker_id"), q.Get("player_id"); kickerID != "" || playerID != "" {
		hub.Subscribe(client, kickerID, playerID)
	}

	go client.writePump()
	go client.readPump()

	client.logger.Debug("new websocket connection")
}
