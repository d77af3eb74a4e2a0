// Package gateway is the realtime connection layer: it accepts
// WebSocket connections, routes inbound events to the auction, presence
// and chat managers, and fans resulting events out to room members.
//
// Handler failures are isolated per connection: a failed event is
// logged and dropped without tearing the connection down or touching
// other rooms. The joining client always receives whatever state is
// available, possibly none, rather than being blocked on the store.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/aaronwang/auction-live/internal/auction"
	"github.com/aaronwang/auction-live/internal/chat"
	"github.com/aaronwang/auction-live/internal/metrics"
	"github.com/aaronwang/auction-live/internal/models"
	"github.com/aaronwang/auction-live/internal/presence"
	"github.com/aaronwang/auction-live/internal/store"
)

// connectionTTL is the defensive expiry on connection records in case
// the disconnect cleanup never runs.
const connectionTTL = 24 * time.Hour

func connectionKey(connectionID string) string {
	return fmt.Sprintf("connection:%s", connectionID)
}

// Gateway wires the WebSocket layer to the realtime managers.
type Gateway struct {
	manager  *Manager
	auctions *auction.Manager
	presence *presence.Manager
	chat     *chat.Log
	metrics  *metrics.Recorder
	store    *store.Client
	clock    clockwork.Clock
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(
	manager *Manager,
	auctions *auction.Manager,
	pres *presence.Manager,
	chatLog *chat.Log,
	rec *metrics.Recorder,
	st *store.Client,
	clock clockwork.Clock,
	log zerolog.Logger,
) *Gateway {
	return &Gateway{
		manager:  manager,
		auctions: auctions,
		presence: pres,
		chat:     chatLog,
		metrics:  rec,
		store:    st,
		clock:    clock,
		log:      log.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Callers arrive through the app's own origin; tighten when
			// the service is exposed directly.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Manager exposes the connection manager, for the fanout bridge and the
// admin health endpoint.
func (g *Gateway) Manager() *Manager {
	return g.manager
}

// HandleWebSocket upgrades the HTTP request and starts the connection's
// read and write pumps. Identity arrives as already-validated user_id
// and username query parameters; connections without one are tracked
// under the anonymous marker.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = models.AnonymousUser
	}
	username := r.URL.Query().Get("username")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	c := &Client{
		ID:       uuid.New().String(),
		UserID:   userID,
		Username: username,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}

	ctx := context.Background()
	record := models.ConnectionRecord{
		ConnectionID: c.ID,
		UserID:       c.UserID,
		Username:     c.Username,
		ConnectedAt:  g.clock.Now().UTC(),
		RemoteAddr:   r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	}
	if err := g.store.SetJSON(ctx, connectionKey(c.ID), record, connectionTTL); err != nil {
		g.log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write connection record")
	}
	g.metrics.Incr(ctx, metrics.Connections)
	if err := g.presence.Touch(ctx, c.UserID); err != nil {
		g.log.Warn().Err(err).Str("user_id", c.UserID).Msg("failed to touch online index")
	}

	g.manager.Register(c)
	go c.writePump()
	go c.readPump(g)

	g.send(c, models.EventConnected, models.Connected{ConnectionID: c.ID, UserID: c.UserID})

	g.log.Info().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Msg("websocket connection established")
}

// handleMessage dispatches one inbound frame. The switch is exhaustive
// over the closed set of variants ParseInbound returns; malformed and
// unknown frames are dropped as no-ops.
func (g *Gateway) handleMessage(c *Client, raw []byte) {
	ctx := context.Background()

	ev, err := models.ParseInbound(raw)
	if err != nil {
		g.log.Debug().Err(err).Str("connection_id", c.ID).Msg("dropping inbound event")
		return
	}

	switch ev := ev.(type) {
	case models.JoinAuction:
		g.handleJoin(ctx, c, ev)
	case models.LeaveAuction:
		g.handleLeave(ctx, c, ev)
	case models.PlaceBid:
		g.handleBid(ctx, c, ev)
	case models.ChatSend:
		g.handleChat(ctx, c, ev)
	case models.Typing:
		g.handleTyping(ctx, c, models.EventUserTyping, ev)
	case models.StopTyping:
		g.handleTyping(ctx, c, models.EventUserStoppedTyping, models.Typing(ev))
	default:
		g.log.Error().Str("connection_id", c.ID).Msgf("unhandled inbound event %T", ev)
	}
}

// handleJoin subscribes the connection to the room, sends the joiner the
// current auction state (possibly absent) and recent chat history, and
// tells everyone else about the new participant.
func (g *Gateway) handleJoin(ctx context.Context, c *Client, ev models.JoinAuction) {
	g.manager.JoinRoom(ev.AuctionID, c)

	count, err := g.presence.Join(ctx, ev.AuctionID, c.UserID, c.ID)
	if err != nil {
		g.log.Error().Err(err).Str("auction_id", ev.AuctionID).Msg("presence join failed")
	}
	g.touch(ctx, c)

	state, err := g.auctions.State(ctx, ev.AuctionID)
	if err != nil {
		g.log.Error().Err(err).Str("auction_id", ev.AuctionID).Msg("failed to read auction state on join")
	}
	g.send(c, models.EventAuctionState, models.AuctionStatePayload{AuctionID: ev.AuctionID, State: state})

	history, err := g.chat.Recent(ctx, ev.AuctionID, chat.MaxMessages)
	if err != nil {
		g.log.Error().Err(err).Str("auction_id", ev.AuctionID).Msg("failed to read chat history on join")
		history = []models.ChatMessage{}
	}
	g.send(c, models.EventChatHistory, models.ChatHistory{AuctionID: ev.AuctionID, Messages: history})

	g.broadcastOthers(ev.AuctionID, c, models.EventUserJoined, models.UserJoined{
		AuctionID:        ev.AuctionID,
		UserID:           c.UserID,
		Username:         c.Username,
		ParticipantCount: count,
	})
}

func (g *Gateway) handleLeave(ctx context.Context, c *Client, ev models.LeaveAuction) {
	g.manager.LeaveRoom(ev.AuctionID, c)

	count, err := g.presence.Leave(ctx, ev.AuctionID, c.UserID, c.ID)
	if err != nil {
		g.log.Error().Err(err).Str("auction_id", ev.AuctionID).Msg("presence leave failed")
	}

	g.broadcastRoom(ev.AuctionID, models.EventUserLeft, models.UserLeft{
		AuctionID:        ev.AuctionID,
		UserID:           c.UserID,
		Username:         c.Username,
		ParticipantCount: count,
	})
}

// handleBid applies the bid and broadcasts the full refreshed state plus
// a distilled new_bid delta to the whole room, bidder included, for UI
// confirmation.
func (g *Gateway) handleBid(ctx context.Context, c *Client, ev models.PlaceBid) {
	userID := ev.UserID
	if userID == "" {
		userID = c.UserID
	}

	state, err := g.auctions.ApplyBid(ctx, ev.AuctionID, ev.BidAmount, userID)
	if err != nil {
		g.log.Error().Err(err).
			Str("auction_id", ev.AuctionID).
			Str("user_id", userID).
			Msg("failed to apply bid")
		return
	}

	g.metrics.Incr(ctx, metrics.Bids)
	g.touch(ctx, c)

	g.broadcastRoom(ev.AuctionID, models.EventAuctionState, models.AuctionStatePayload{AuctionID: ev.AuctionID, State: state})
	g.broadcastRoom(ev.AuctionID, models.EventNewBid, models.NewBid{
		AuctionID: ev.AuctionID,
		Amount:    ev.BidAmount,
		UserID:    userID,
		BidCount:  state.BidCount,
		Timestamp: state.LastBidTime,
	})
}

func (g *Gateway) handleChat(ctx context.Context, c *Client, ev models.ChatSend) {
	msg := models.ChatMessage{
		UserID:    ev.UserID,
		Username:  ev.Username,
		Message:   ev.Message,
		Timestamp: g.clock.Now().UTC(),
	}
	if msg.UserID == "" {
		msg.UserID = c.UserID
	}
	if msg.Username == "" {
		msg.Username = c.Username
	}

	if err := g.chat.Append(ctx, ev.AuctionID, msg); err != nil {
		g.log.Error().Err(err).Str("auction_id", ev.AuctionID).Msg("failed to append chat message")
		return
	}

	g.metrics.Incr(ctx, metrics.ChatMessages)
	g.touch(ctx, c)

	g.broadcastRoom(ev.AuctionID, models.EventChatMessage, msg)
}

// handleTyping relays typing indicators to the rest of the room. They
// are ephemeral: never persisted, never echoed back to the sender.
func (g *Gateway) handleTyping(ctx context.Context, c *Client, t models.EventType, ev models.Typing) {
	payload := models.UserTyping{AuctionID: ev.AuctionID, UserID: ev.UserID, Username: ev.Username}
	if payload.UserID == "" {
		payload.UserID = c.UserID
	}
	if payload.Username == "" {
		payload.Username = c.Username
	}
	g.touch(ctx, c)
	g.broadcastOthers(ev.AuctionID, c, t, payload)
}

// handleDisconnect is the single cleanup path for a terminated
// connection: it leaves every room in the user's reverse index,
// notifies those rooms, and removes the connection record. Missed
// disconnects fall back to membership TTL expiry.
func (g *Gateway) handleDisconnect(c *Client) {
	ctx := context.Background()

	g.manager.Unregister(c)

	rooms, err := g.presence.LeaveAll(ctx, c.UserID, c.ID)
	if err != nil {
		g.log.Error().Err(err).
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Msg("disconnect cleanup failed; membership will expire by TTL")
	}
	for _, room := range rooms {
		g.broadcastRoom(room.AuctionID, models.EventUserDisconnected, models.UserDisconnected{
			AuctionID:        room.AuctionID,
			UserID:           c.UserID,
			Username:         c.Username,
			ParticipantCount: room.ParticipantCount,
		})
	}

	if err := g.store.Delete(ctx, connectionKey(c.ID)); err != nil {
		g.log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to delete connection record")
	}
	g.metrics.Incr(ctx, metrics.Disconnections)

	g.log.Info().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Int("rooms", len(rooms)).
		Msg("websocket connection closed")
}

func (g *Gateway) touch(ctx context.Context, c *Client) {
	if err := g.presence.Touch(ctx, c.UserID); err != nil {
		g.log.Warn().Err(err).Str("user_id", c.UserID).Msg("failed to touch online index")
	}
}

// send queues an event for a single connection.
func (g *Gateway) send(c *Client, t models.EventType, payload any) {
	frame, err := models.NewOutbound(t, payload)
	if err != nil {
		g.log.Error().Err(err).Str("event", string(t)).Msg("failed to encode outbound event")
		return
	}
	if !c.trySend(frame) {
		g.log.Warn().Str("connection_id", c.ID).Str("event", string(t)).Msg("send buffer full, event dropped")
	}
}

func (g *Gateway) broadcastRoom(auctionID string, t models.EventType, payload any) {
	frame, err := models.NewOutbound(t, payload)
	if err != nil {
		g.log.Error().Err(err).Str("event", string(t)).Msg("failed to encode outbound event")
		return
	}
	g.manager.BroadcastRoom(auctionID, frame)
}

func (g *Gateway) broadcastOthers(auctionID string, sender *Client, t models.EventType, payload any) {
	frame, err := models.NewOutbound(t, payload)
	if err != nil {
		g.log.Error().Err(err).Str("event", string(t)).Msg("failed to encode outbound event")
		return
	}
	g.manager.BroadcastOthers(auctionID, sender, frame)
}
