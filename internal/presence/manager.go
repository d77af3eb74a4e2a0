// Package presence tracks which (user, connection) pairs are in which
// auction room, plus a recency index of online users.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aaronwang/auction-live/internal/models"
	"github.com/aaronwang/auction-live/internal/store"
)

const (
	// MembershipTTL is the sliding expiry on room membership and the
	// user reverse index. Explicit leave/disconnect is the primary
	// cleanup path; the TTL is only a leak guard for missed disconnects,
	// so counts can be stale for up to this window.
	MembershipTTL = time.Hour

	// OnlineWindow is how recently a user must have been active to count
	// as online.
	OnlineWindow = 5 * time.Minute

	onlineUsersKey = "online:users"
)

func membersKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:members", auctionID)
}

func userAuctionsKey(userID string) string {
	return fmt.Sprintf("user:%s:auctions", userID)
}

// member encodes a (user, connection) pair as one set member. Connection
// ids are UUIDs, so splitting on the last colon is unambiguous even if
// the user id contains one.
func member(userID, connectionID string) string {
	return userID + ":" + connectionID
}

func splitMember(m string) (userID, connectionID string) {
	i := strings.LastIndex(m, ":")
	if i < 0 {
		return m, ""
	}
	return m[:i], m[i+1:]
}

// Manager maintains room membership sets and the user → auctions
// reverse index, kept symmetric so a disconnect can clean up every room
// the connection had joined.
type Manager struct {
	store *store.Client
	clock clockwork.Clock
	log   zerolog.Logger
}

func NewManager(st *store.Client, clock clockwork.Clock, log zerolog.Logger) *Manager {
	return &Manager{
		store: st,
		clock: clock,
		log:   log.With().Str("component", "presence").Logger(),
	}
}

// Join adds the connection to the auction's room and the auction to the
// user's reverse index, refreshing both TTLs, and returns the room's
// participant count. Joining twice is a no-op beyond the TTL refresh.
func (m *Manager) Join(ctx context.Context, auctionID, userID, connectionID string) (int64, error) {
	var countCmd *redis.IntCmd
	err := m.store.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, membersKey(auctionID), member(userID, connectionID))
		pipe.Expire(ctx, membersKey(auctionID), MembershipTTL)
		pipe.SAdd(ctx, userAuctionsKey(userID), auctionID)
		pipe.Expire(ctx, userAuctionsKey(userID), MembershipTTL)
		countCmd = pipe.SCard(ctx, membersKey(auctionID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("join auction %s: %w", auctionID, err)
	}
	return countCmd.Val(), nil
}

// Leave removes the membership and reverse-index entries and returns the
// remaining participant count. Leaving a room the connection is not in
// is a no-op, not an error.
func (m *Manager) Leave(ctx context.Context, auctionID, userID, connectionID string) (int64, error) {
	var countCmd *redis.IntCmd
	err := m.store.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, membersKey(auctionID), member(userID, connectionID))
		pipe.SRem(ctx, userAuctionsKey(userID), auctionID)
		countCmd = pipe.SCard(ctx, membersKey(auctionID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("leave auction %s: %w", auctionID, err)
	}
	return countCmd.Val(), nil
}

// Participants lists the (user, connection) pairs currently in a room.
// A user with two connections appears twice, once per connection.
func (m *Manager) Participants(ctx context.Context, auctionID string) ([]models.Participant, error) {
	members, err := m.store.SMembers(ctx, membersKey(auctionID))
	if err != nil {
		return nil, err
	}
	participants := make([]models.Participant, 0, len(members))
	for _, entry := range members {
		userID, connectionID := splitMember(entry)
		participants = append(participants, models.Participant{UserID: userID, ConnectionID: connectionID})
	}
	return participants, nil
}

// Count returns the participant count for a room.
func (m *Manager) Count(ctx context.Context, auctionID string) (int64, error) {
	return m.store.SCard(ctx, membersKey(auctionID))
}

// RoomCount is a room's participant count after a LeaveAll sweep.
type RoomCount struct {
	AuctionID        string
	ParticipantCount int64
}

// LeaveAll removes the connection from every auction in the user's
// reverse index. This is the disconnect cleanup path; TTL expiry only
// covers the case where it never ran.
func (m *Manager) LeaveAll(ctx context.Context, userID, connectionID string) ([]RoomCount, error) {
	auctions, err := m.store.SMembers(ctx, userAuctionsKey(userID))
	if err != nil {
		return nil, err
	}

	rooms := make([]RoomCount, 0, len(auctions))
	for _, auctionID := range auctions {
		count, err := m.Leave(ctx, auctionID, userID, connectionID)
		if err != nil {
			m.log.Error().Err(err).
				Str("auction_id", auctionID).
				Str("user_id", userID).
				Msg("failed to leave room during disconnect cleanup")
			continue
		}
		rooms = append(rooms, RoomCount{AuctionID: auctionID, ParticipantCount: count})
	}
	return rooms, nil
}

// Touch records user activity in the online-users recency index.
func (m *Manager) Touch(ctx context.Context, userID string) error {
	now := float64(m.clock.Now().Unix())
	if err := m.store.ZAdd(ctx, onlineUsersKey, now, userID); err != nil {
		return err
	}
	return nil
}

// OnlineCount prunes users idle past the online window and returns how
// many remain.
func (m *Manager) OnlineCount(ctx context.Context) (int64, error) {
	cutoff := m.clock.Now().Add(-OnlineWindow).Unix()
	cutoffStr := strconv.FormatInt(cutoff, 10)
	if err := m.store.ZRemRangeByScore(ctx, onlineUsersKey, "-inf", "("+cutoffStr); err != nil {
		return 0, err
	}
	return m.store.ZCount(ctx, onlineUsersKey, cutoffStr, "+inf")
}
