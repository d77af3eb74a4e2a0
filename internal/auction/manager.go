// Package auction owns the authoritative live view of each auction's
// current bid, bid count and bounded bid history.
package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aaronwang/auction-live/internal/models"
	"github.com/aaronwang/auction-live/internal/store"
)

const (
	// StateTTL is the sliding expiry for auction state. State is never
	// explicitly deleted, it only expires.
	StateTTL = 24 * time.Hour

	stateKeyPattern = "auction:*:state"
)

func stateKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:state", auctionID)
}

func bidsKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:bids", auctionID)
}

// BidChannel is the per-auction pub/sub channel bid events are published
// on. The fanout bridge pattern-subscribes to BidChannelPattern so bids
// placed on other gateway instances reach locally connected sockets.
func BidChannel(auctionID string) string {
	return fmt.Sprintf("bid_events:%s", auctionID)
}

const BidChannelPattern = "bid_events:*"

// AuctionFromChannel extracts the auction id from a bid-event channel
// name, or "" if the name does not match.
func AuctionFromChannel(channel string) string {
	const prefix = "bid_events:"
	if !strings.HasPrefix(channel, prefix) {
		return ""
	}
	return channel[len(prefix):]
}

// Archiver publishes accepted bids to the durable archival stream. The
// live path works without one.
type Archiver interface {
	PublishBidEvent(ctx context.Context, event *models.BidEvent) error
}

// Manager applies bid updates and serves auction state snapshots.
//
// Scalar fields live in a hash and the bid history in a list, written
// through a single MULTI/EXEC transaction with HINCRBY for the count, so
// concurrent bids for the same auction from different gateway instances
// never lose an increment or a history entry. Bid amounts are NOT
// validated against the current bid here; acceptance authority belongs
// to the transactional backend, this is a best-effort live reflection.
type Manager struct {
	store    *store.Client
	archiver Archiver
	clock    clockwork.Clock
	log      zerolog.Logger
}

// NewManager creates an auction state manager. archiver may be nil to
// disable durable archival.
func NewManager(st *store.Client, archiver Archiver, clock clockwork.Clock, log zerolog.Logger) *Manager {
	return &Manager{
		store:    st,
		archiver: archiver,
		clock:    clock,
		log:      log.With().Str("component", "auction").Logger(),
	}
}

// State reads the live state of one auction. A nil state with a nil
// error means no state is recorded, which is not an error.
func (m *Manager) State(ctx context.Context, auctionID string) (*models.AuctionState, error) {
	fields, err := m.store.HGetAll(ctx, stateKey(auctionID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	state := &models.AuctionState{AuctionID: auctionID, Bids: []models.Bid{}}
	if v := fields["current_bid"]; v != "" {
		state.CurrentBid, _ = strconv.ParseFloat(v, 64)
	}
	if v := fields["bid_count"]; v != "" {
		state.BidCount, _ = strconv.ParseInt(v, 10, 64)
	}
	state.LastBidder = fields["last_bidder"]
	if v := fields["last_bid_time"]; v != "" {
		state.LastBidTime, _ = time.Parse(time.RFC3339Nano, v)
	}

	entries, err := m.store.LRange(ctx, bidsKey(auctionID), 0, models.MaxBidHistory-1)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		var bid models.Bid
		if err := json.Unmarshal([]byte(entry), &bid); err != nil {
			m.log.Warn().Err(err).Str("auction_id", auctionID).Msg("skipping corrupt bid history entry")
			continue
		}
		state.Bids = append(state.Bids, bid)
	}

	return state, nil
}

// Initialize creates a fresh zero-bid state for an auction. Calling it
// again resets the state (overwrite semantics); callers avoid
// double-initialization in normal operation.
func (m *Manager) Initialize(ctx context.Context, auctionID string, startingBid float64) (*models.AuctionState, error) {
	err := m.store.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, bidsKey(auctionID))
		pipe.Del(ctx, stateKey(auctionID))
		pipe.HSet(ctx, stateKey(auctionID),
			"current_bid", strconv.FormatFloat(startingBid, 'f', -1, 64),
			"bid_count", "0",
		)
		pipe.Expire(ctx, stateKey(auctionID), StateTTL)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("initialize auction %s: %w", auctionID, err)
	}

	m.log.Info().Str("auction_id", auctionID).Float64("starting_bid", startingBid).Msg("auction state initialized")

	return &models.AuctionState{
		AuctionID:  auctionID,
		CurrentBid: startingBid,
		Bids:       []models.Bid{},
	}, nil
}

// ApplyBid records an accepted bid: increments the bid count, sets the
// current bid to the submitted amount unconditionally, prepends the bid
// to the capped history and refreshes the 24h TTL, all in one
// transaction. The raw bid event is then published for cross-instance
// fanout and, when an archiver is configured, to the archival stream.
func (m *Manager) ApplyBid(ctx context.Context, auctionID string, amount float64, userID string) (*models.AuctionState, error) {
	now := m.clock.Now().UTC()
	bid := models.Bid{Amount: amount, UserID: userID, Timestamp: now}
	entry, err := json.Marshal(bid)
	if err != nil {
		return nil, fmt.Errorf("marshal bid: %w", err)
	}

	var countCmd *redis.IntCmd
	err = m.store.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		countCmd = pipe.HIncrBy(ctx, stateKey(auctionID), "bid_count", 1)
		pipe.HSet(ctx, stateKey(auctionID),
			"current_bid", strconv.FormatFloat(amount, 'f', -1, 64),
			"last_bidder", userID,
			"last_bid_time", now.Format(time.RFC3339Nano),
		)
		pipe.LPush(ctx, bidsKey(auctionID), entry)
		pipe.LTrim(ctx, bidsKey(auctionID), 0, models.MaxBidHistory-1)
		pipe.Expire(ctx, stateKey(auctionID), StateTTL)
		pipe.Expire(ctx, bidsKey(auctionID), StateTTL)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply bid on auction %s: %w", auctionID, err)
	}

	event := &models.BidEvent{
		EventID:   uuid.New().String(),
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		BidCount:  countCmd.Val(),
		Timestamp: now,
	}
	m.publishBidEvent(ctx, event)

	state, err := m.State(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// publishBidEvent fans the event out to the pub/sub channel and the
// archival stream. Both paths are best-effort: the bid is already
// recorded, so failures are logged and the caller proceeds.
func (m *Manager) publishBidEvent(ctx context.Context, event *models.BidEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		m.log.Error().Err(err).Str("auction_id", event.AuctionID).Msg("failed to marshal bid event")
		return
	}

	if err := m.store.Publish(ctx, BidChannel(event.AuctionID), payload); err != nil {
		m.log.Error().Err(err).Str("auction_id", event.AuctionID).Msg("failed to publish bid event")
	}

	if m.archiver != nil {
		if err := m.archiver.PublishBidEvent(ctx, event); err != nil {
			m.log.Error().Err(err).Str("auction_id", event.AuctionID).Msg("failed to publish bid event to archival stream")
		}
	}
}

// ListActive returns the state of every non-expired auction via a key
// pattern scan. O(n) over live auctions; intended for dashboards, not
// the hot path.
func (m *Manager) ListActive(ctx context.Context) ([]*models.AuctionState, error) {
	keys, err := m.store.Keys(ctx, stateKeyPattern)
	if err != nil {
		return nil, err
	}

	states := make([]*models.AuctionState, 0, len(keys))
	for _, key := range keys {
		auctionID := strings.TrimSuffix(strings.TrimPrefix(key, "auction:"), ":state")
		state, err := m.State(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		if state != nil {
			states = append(states, state)
		}
	}
	return states, nil
}
