package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kicker-achievements/internal/domain"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func newTestClient(hub *Hub, id string) *Client {
	return &Client{id: id, hub: hub, send: make(chan []byte, 8), logger: hub.logger}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.id)
		return Message{}
	}
}

func TestHub_DeliverReachesKickerAndPlayerSubscribers(t *testing.T) {
	hub := newTestHub(t)
	kickerFan := newTestClient(hub, "kicker-fan")
	playerFan := newTestClient(hub, "player-fan")
	both := newTestClient(hub, "both")
	other := newTestClient(hub, "other")

	for _, c := range []*Client{kickerFan, playerFan, both, other} {
		hub.Register(c)
	}
	hub.Subscribe(kickerFan, "k1", "")
	hub.Subscribe(playerFan, "", "p1")
	hub.Subscribe(both, "k1", "p1")
	hub.Subscribe(other, "k2", "")

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount("k1") == 2 && hub.GetPlayerSubscriberCount("p1") == 2 && hub.GetSubscriberCount("k2") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, hub.GetTotalConnections())

	err := hub.Deliver(context.Background(), domain.UnlockNotification{
		UnlockID: "u1", KickerID: "k1", PlayerID: "p1", AchievementKey: "wins-5", Kind: domain.UnlockNew,
	})
	require.NoError(t, err)

	for _, c := range []*Client{kickerFan, playerFan, both} {
		msg := receive(t, c)
		assert.Equal(t, MessageTypeAchievementUnlocked, msg.Type)
		assert.Equal(t, "k1", msg.KickerID)
	}

	// no duplicate for the client subscribed twice, nothing for the other kicker
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, both.send)
	assert.Empty(t, other.send)
}

func TestHub_UnregisterDropsSubscriptions(t *testing.T) {
	hub := newTestHub(t)
	c := newTestClient(hub, "c1")
	hub.Register(c)
	hub.Subscribe(c, "k1", "")
	require.Eventually(t, func() bool { return hub.GetSubscriberCount("k1") == 1 }, time.Second, 5*time.Millisecond)

	hub.Unregister(c)
	require.Eventually(t, func() bool { return hub.GetTotalConnections() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.GetSubscriberCount("k1"))

	_, open := <-c.send
	assert.False(t, open)
}

func TestHub_DeliverAfterStop(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	hub.Stop()
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.broadcast <- &Message{}
	}

	err := hub.Deliver(context.Background(), domain.UnlockNotification{KickerID: "k1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "websocket", hub.Name())
}

func TestHub_SubscribeAfterUnregisterIsIgnored(t *testing.T) {
	hub := newTestHub(t)
	c := newTestClient(hub, "c1")
	hub.Register(c)
	hub.Unregister(c)
	hub.Subscribe(c, "k1", "p1")

	// subscriptions apply in order, so once c2 shows up c1's request is done
	live := newTestClient(hub, "c2")
	hub.Register(live)
	hub.Subscribe(live, "k2", "")
	require.Eventually(t, func() bool { return hub.GetSubscriberCount("k2") == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.GetSubscriberCount("k1"))
	assert.Zero(t, hub.GetPlayerSubscriberCount("p1"))
}

func TestClient_HandleMessage(t *testing.T) {
	hub := newTestHub(t)
	c := newTestClient(hub, "c1")
	hub.Register(c)

	c.handleMessage(&ClientMessage{Type: MessageTypeSubscribe})
	assert.Equal(t, MessageTypeError, receive(t, c).Type)

	c.handleMessage(&ClientMessage{Type: "ping", KickerID: "k1"})
	assert.Equal(t, MessageTypeError, receive(t, c).Type)

	c.handleMessage(&ClientMessage{Type: MessageTypeSubscribe, KickerID: "k1", PlayerID: "p1"})
	ack := receive(t, c)
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.Equal(t, "k1", ack.KickerID)
	assert.Equal(t, "p1", ack.PlayerID)
	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount("k1") == 1 && hub.GetPlayerSubscriberCount("p1") == 1
	}, time.Second, 5*time.Millisecond)

	c.handleMessage(&ClientMessage{Type: MessageTypeUnsubscribe, PlayerID: "p1"})
	assert.Equal(t, MessageTypeUnsubscribed, receive(t, c).Type)
	require.Eventually(t, func() bool { return hub.GetPlayerSubscriberCount("p1") == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.GetSubscriberCount("k1"))
}

func TestServeWs_SubscribesFromQueryAndStreamsUnlocks(t *testing.T) {
	hub := newTestHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, hub.logger, w, r)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?kicker_id=k1"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.GetSubscriberCount("k1") == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Deliver(ctx, domain.UnlockNotification{UnlockID: "u1", KickerID: "k1", PlayerID: "p1"}))
	require.NoError(t, hub.Deliver(ctx, domain.UnlockNotification{UnlockID: "u2", KickerID: "k1", PlayerID: "p2"}))

	// one frame per message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	for _, player := range []string{"p1", "p2"} {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, MessageTypeAchievementUnlocked, msg.Type)
		assert.Equal(t, player, msg.PlayerID)
	}

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte("{")))
	var reply Message
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, MessageTypeError, reply.Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeUnsubscribe, KickerID: "k1"}))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, MessageTypeUnsubscribed, reply.Type)
	require.Eventually(t, func() bool { return hub.GetSubscriberCount("k1") == 0 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.GetTotalConnections() == 0 }, time.Second, 5*time.Millisecond)
}
