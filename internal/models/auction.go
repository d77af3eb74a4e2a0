package models

import "time"

// MaxBidHistory bounds the per-auction bid history retained in the store.
// Older entries are silently dropped.
const MaxBidHistory = 100

// Bid is a single accepted bid as retained in an auction's history.
type Bid struct {
	Amount    float64   `json:"amount"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AuctionState is the authoritative live view of one auction.
//
// BidCount counts every bid ever accepted, not just the retained history.
// CurrentBid is the amount of the most recent accepted bid; it is not
// guaranteed to be the highest (no floor validation at this layer).
type AuctionState struct {
	AuctionID   string    `json:"auction_id"`
	CurrentBid  float64   `json:"current_bid"`
	BidCount    int64     `json:"bid_count"`
	LastBidder  string    `json:"last_bidder,omitempty"`
	LastBidTime time.Time `json:"last_bid_time"`
	Bids        []Bid     `json:"bids"`
}

// BidEvent is published for every accepted bid:
// 1. Redis Pub/Sub (cross-instance realtime fanout)
// 2. NATS JetStream (durable archival to PostgreSQL)
type BidEvent struct {
	EventID   string    `json:"event_id"`
	AuctionID string    `json:"auction_id"`
	UserID    string    `json:"user_id"`
	Amount    float64   `json:"amount"`
	BidCount  int64     `json:"bid_count"`
	Timestamp time.Time `json:"timestamp"`
}

// Participant is one (user, connection) pair in an auction room. A user
// viewing from two tabs appears as two participants.
type Participant struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}
