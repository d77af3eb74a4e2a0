package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aaronwang/auction-live/internal/auction"
	"github.com/aaronwang/auction-live/internal/chat"
	"github.com/aaronwang/auction-live/internal/metrics"
	"github.com/aaronwang/auction-live/internal/models"
	"github.com/aaronwang/auction-live/internal/presence"
	"github.com/aaronwang/auction-live/internal/store"
)

type testEnv struct {
	srv      *httptest.Server
	mr       *miniredis.Miniredis
	auctions *auction.Manager
	presence *presence.Manager
	chat     *chat.Log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := store.NewFromRedis(rdb)
	clock := clockwork.NewRealClock()
	logger := zerolog.Nop()

	auctions := auction.NewManager(st, nil, clock, logger)
	pres := presence.NewManager(st, clock, logger)
	chatLog := chat.NewLog(st, clock, logger)
	rec := metrics.NewRecorder(st, clock, logger)

	manager := NewManager(logger)
	gw := New(manager, auctions, pres, chatLog, rec, st, clock, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, mr: mr, auctions: auctions, presence: pres, chat: chatLog}
}

func (e *testEnv) dial(t *testing.T, userID, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") +
		fmt.Sprintf("/ws?user_id=%s&username=%s", userID, username)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, typ models.EventType, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(models.Envelope{Type: typ, Data: data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// waitForEvent reads frames until one of the wanted type arrives,
// discarding others along the way.
func waitForEvent(t *testing.T, conn *websocket.Conn, typ models.EventType) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)

		var env models.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Type == typ {
			return env.Data
		}
	}
	t.Fatalf("timed out waiting for %s", typ)
	return nil
}

func TestConnectWritesConnectionRecord(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "u1", "Alice")

	var greeting models.Connected
	require.NoError(t, json.Unmarshal(waitForEvent(t, conn, models.EventConnected), &greeting))
	require.NotEmpty(t, greeting.ConnectionID)
	require.Equal(t, "u1", greeting.UserID)
	require.True(t, env.mr.Exists(fmt.Sprintf("connection:%s", greeting.ConnectionID)))
}

func TestAnonymousConnection(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "", "")

	var greeting models.Connected
	require.NoError(t, json.Unmarshal(waitForEvent(t, conn, models.EventConnected), &greeting))
	require.Equal(t, models.AnonymousUser, greeting.UserID)
}

func TestJoinReceivesStateAndHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auctions.Initialize(ctx, "A1", 1000)
	require.NoError(t, err)
	require.NoError(t, env.chat.Append(ctx, "A1", models.ChatMessage{UserID: "u9", Username: "Zed", Message: "opening soon"}))

	conn := env.dial(t, "u1", "Alice")
	sendEvent(t, conn, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})

	var statePayload models.AuctionStatePayload
	require.NoError(t, json.Unmarshal(waitForEvent(t, conn, models.EventAuctionState), &statePayload))
	require.NotNil(t, statePayload.State)
	require.Equal(t, float64(1000), statePayload.State.CurrentBid)

	var history models.ChatHistory
	require.NoError(t, json.Unmarshal(waitForEvent(t, conn, models.EventChatHistory), &history))
	require.Len(t, history.Messages, 1)
	require.Equal(t, "opening soon", history.Messages[0].Message)
}

func TestJoinUnknownAuctionSendsNullState(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, "u1", "Alice")
	sendEvent(t, conn, models.EventJoinAuction, models.JoinAuction{AuctionID: "missing"})

	var statePayload models.AuctionStatePayload
	require.NoError(t, json.Unmarshal(waitForEvent(t, conn, models.EventAuctionState), &statePayload))
	require.Nil(t, statePayload.State, "the joiner receives whatever is available, absent state included")
}

func TestBidBroadcastToWholeRoom(t *testing.T) {
	env := newTestEnv(t)

	c1 := env.dial(t, "u1", "Alice")
	sendEvent(t, c1, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})
	waitForEvent(t, c1, models.EventChatHistory)

	c2 := env.dial(t, "u2", "Bob")
	sendEvent(t, c2, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})
	waitForEvent(t, c2, models.EventChatHistory)

	var joined models.UserJoined
	require.NoError(t, json.Unmarshal(waitForEvent(t, c1, models.EventUserJoined), &joined))
	require.Equal(t, "u2", joined.UserID)
	require.EqualValues(t, 2, joined.ParticipantCount)

	sendEvent(t, c2, models.EventPlaceBid, models.PlaceBid{AuctionID: "A1", BidAmount: 1200, UserID: "u2"})

	// Both connections get the delta, the bidder included.
	for _, conn := range []*websocket.Conn{c1, c2} {
		var bid models.NewBid
		require.NoError(t, json.Unmarshal(waitForEvent(t, conn, models.EventNewBid), &bid))
		require.Equal(t, float64(1200), bid.Amount)
		require.Equal(t, "u2", bid.UserID)
		require.EqualValues(t, 1, bid.BidCount)
	}
}

func TestChatBroadcast(t *testing.T) {
	env := newTestEnv(t)

	c1 := env.dial(t, "u1", "Alice")
	sendEvent(t, c1, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})
	waitForEvent(t, c1, models.EventChatHistory)

	c2 := env.dial(t, "u2", "Bob")
	sendEvent(t, c2, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})
	waitForEvent(t, c2, models.EventChatHistory)

	sendEvent(t, c1, models.EventChatMessage, models.ChatSend{AuctionID: "A1", Message: "hello", UserID: "u1", Username: "Alice"})

	var msg models.ChatMessage
	require.NoError(t, json.Unmarshal(waitForEvent(t, c2, models.EventChatMessage), &msg))
	require.Equal(t, "hello", msg.Message)
	require.Equal(t, "u1", msg.UserID)

	history, err := env.chat.Recent(context.Background(), "A1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestTypingExcludesSender(t *testing.T) {
	env := newTestEnv(t)

	c1 := env.dial(t, "u1", "Alice")
	sendEvent(t, c1, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})
	waitForEvent(t, c1, models.EventChatHistory)

	c2 := env.dial(t, "u2", "Bob")
	sendEvent(t, c2, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})
	waitForEvent(t, c2, models.EventChatHistory)

	sendEvent(t, c2, models.EventTyping, models.Typing{AuctionID: "A1", UserID: "u2", Username: "Bob"})

	var typing models.UserTyping
	require.NoError(t, json.Unmarshal(waitForEvent(t, c1, models.EventUserTyping), &typing))
	require.Equal(t, "u2", typing.UserID)

	// The sender must not get its own indicator back: the next frame c2
	// receives after sending a chat message is that message, with no
	// user_typing before it.
	sendEvent(t, c2, models.EventChatMessage, models.ChatSend{AuctionID: "A1", Message: "done typing", UserID: "u2"})
	require.NoError(t, c2.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := c2.ReadMessage()
	require.NoError(t, err)
	var env2 models.Envelope
	require.NoError(t, json.Unmarshal(raw, &env2))
	require.Equal(t, models.EventChatMessage, env2.Type)
}

func TestLeaveNotifiesRoom(t *testing.T) {
	env := newTestEnv(t)

	c1 := env.dial(t, "u1", "Alice")
	sendEvent(t, c1, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})
	waitForEvent(t, c1, models.EventChatHistory)

	c2 := env.dial(t, "u2", "Bob")
	sendEvent(t, c2, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})
	waitForEvent(t, c2, models.EventChatHistory)
	waitForEvent(t, c1, models.EventUserJoined)

	sendEvent(t, c2, models.EventLeaveAuction, models.LeaveAuction{AuctionID: "A1"})

	var left models.UserLeft
	require.NoError(t, json.Unmarshal(waitForEvent(t, c1, models.EventUserLeft), &left))
	require.Equal(t, "u2", left.UserID)
	require.EqualValues(t, 1, left.ParticipantCount)
}

func TestDisconnectCleansUpPresence(t *testing.T) {
	env := newTestEnv(t)

	c1 := env.dial(t, "u1", "Alice")
	sendEvent(t, c1, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})
	waitForEvent(t, c1, models.EventChatHistory)

	c2 := env.dial(t, "u2", "Bob")
	sendEvent(t, c2, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})
	waitForEvent(t, c2, models.EventChatHistory)
	waitForEvent(t, c1, models.EventUserJoined)

	require.NoError(t, c2.Close())

	var gone models.UserDisconnected
	require.NoError(t, json.Unmarshal(waitForEvent(t, c1, models.EventUserDisconnected), &gone))
	require.Equal(t, "u2", gone.UserID)
	require.EqualValues(t, 1, gone.ParticipantCount)

	count, err := env.presence.Count(context.Background(), "A1")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, "u1", "Alice")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json at all")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"no_such_event","data":{}}`)))

	// The connection survives and keeps processing events.
	sendEvent(t, conn, models.EventJoinAuction, models.JoinAuction{AuctionID: "A1"})
	waitForEvent(t, conn, models.EventAuctionState)
}
