// Package bridge relays bid events between gateway instances. Each
// instance pattern-subscribes to every auction's bid channel and
// re-broadcasts received events to its locally connected sockets, which
// is what keeps multiple gateways behind a load balancer consistent
// without direct process-to-process connections.
package bridge

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/aaronwang/auction-live/internal/auction"
	"github.com/aaronwang/auction-live/internal/models"
	"github.com/aaronwang/auction-live/internal/store"
)

// Broadcaster delivers a payload to the local members of an auction
// room. Decouples the bridge from the WebSocket layer.
type Broadcaster interface {
	BroadcastRoom(auctionID string, payload []byte)
}

// Bridge forwards cross-instance bid events to local sockets.
//
// The subscription also receives events this instance published itself;
// the gateway has already broadcast those locally, so room members may
// see the same bid twice (once as new_bid, once as external_bid) and
// consumers are expected to tolerate that.
type Bridge struct {
	store       *store.Client
	broadcaster Broadcaster
	log         zerolog.Logger
}

func New(st *store.Client, b Broadcaster, log zerolog.Logger) *Bridge {
	return &Bridge{
		store:       st,
		broadcaster: b,
		log:         log.With().Str("component", "bridge").Logger(),
	}
}

// Run subscribes to the bid-event channel pattern and relays messages
// until the context is cancelled. Blocking; run in a goroutine.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.store.PSubscribe(ctx, auction.BidChannelPattern)
	defer pubsub.Close()

	b.log.Info().Str("pattern", auction.BidChannelPattern).Msg("fanout bridge subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (b *Bridge) relay(channel string, payload []byte) {
	auctionID := auction.AuctionFromChannel(channel)
	if auctionID == "" {
		b.log.Warn().Str("channel", channel).Msg("ignoring message on unexpected channel")
		return
	}

	// Validate before relaying so a corrupt publish does not reach
	// clients.
	var event models.BidEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("ignoring malformed bid event")
		return
	}

	frame, err := models.NewOutbound(models.EventExternalBid, json.RawMessage(payload))
	if err != nil {
		b.log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to encode external bid")
		return
	}
	b.broadcaster.BroadcastRoom(auctionID, frame)
}
