// Package chat is the append-only, capped activity log attached to each
// auction room. It is independent of bid state.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aaronwang/auction-live/internal/models"
	"github.com/aaronwang/auction-live/internal/store"
)

const (
	// MaxMessages is the number of messages retained per room; older
	// ones are silently evicted.
	MaxMessages = 100

	// LogTTL expires a room's log 24 hours after the last write.
	LogTTL = 24 * time.Hour
)

func chatKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:chat", auctionID)
}

// Log stores chat messages newest-first in a capped list. There is no
// edit or delete of individual messages; moderation is an external
// concern.
type Log struct {
	store *store.Client
	clock clockwork.Clock
	log   zerolog.Logger
}

func NewLog(st *store.Client, clock clockwork.Clock, log zerolog.Logger) *Log {
	return &Log{
		store: st,
		clock: clock,
		log:   log.With().Str("component", "chat").Logger(),
	}
}

// Append pushes a message onto the room's log, trims to the newest
// MaxMessages and refreshes the TTL. The message timestamp is stamped
// here if the caller left it zero.
func (l *Log) Append(ctx context.Context, auctionID string, msg models.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = l.clock.Now().UTC()
	}
	entry, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	err = l.store.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, chatKey(auctionID), entry)
		pipe.LTrim(ctx, chatKey(auctionID), 0, MaxMessages-1)
		pipe.Expire(ctx, chatKey(auctionID), LogTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append chat message to auction %s: %w", auctionID, err)
	}
	return nil
}

// Recent returns up to limit of the room's newest messages in
// chronological (oldest-first) order, reversing the newest-first storage
// order. A non-positive or oversized limit is clamped to MaxMessages.
func (l *Log) Recent(ctx context.Context, auctionID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > MaxMessages {
		limit = MaxMessages
	}

	entries, err := l.store.LRange(ctx, chatKey(auctionID), 0, int64(limit)-1)
	if err != nil {
		return nil, err
	}

	messages := make([]models.ChatMessage, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(entries[i]), &msg); err != nil {
			l.log.Warn().Err(err).Str("auction_id", auctionID).Msg("skipping corrupt chat entry")
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
