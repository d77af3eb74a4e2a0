package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType identifies a realtime event on the wire.
type EventType string

// Inbound events accepted by the gateway.
const (
	EventJoinAuction  EventType = "join_auction"
	EventLeaveAuction EventType = "leave_auction"
	EventPlaceBid     EventType = "place_bid"
	EventChatMessage  EventType = "chat_message"
	EventTyping       EventType = "typing"
	EventStopTyping   EventType = "stop_typing"
)

// Outbound events emitted by the gateway.
const (
	EventConnected         EventType = "connected"
	EventAuctionState      EventType = "auction_state"
	EventNewBid            EventType = "new_bid"
	EventChatHistory       EventType = "chat_history"
	EventUserJoined        EventType = "user_joined"
	EventUserLeft          EventType = "user_left"
	EventUserDisconnected  EventType = "user_disconnected"
	EventUserTyping        EventType = "user_typing"
	EventUserStoppedTyping EventType = "user_stopped_typing"
	EventExternalBid       EventType = "external_bid"
)

// Envelope is the wire frame for every realtime event, inbound and
// outbound: a type tag plus a type-specific payload.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrMissingField = errors.New("missing required field")
)

// Inbound payloads. ParseInbound is the only constructor; the set of
// types it returns is closed and the gateway dispatch switches over all
// of them.

type JoinAuction struct {
	AuctionID string `json:"auction_id"`
}

type LeaveAuction struct {
	AuctionID string `json:"auction_id"`
}

type PlaceBid struct {
	AuctionID string  `json:"auction_id"`
	BidAmount float64 `json:"bid_amount"`
	UserID    string  `json:"user_id"`
}

type ChatSend struct {
	AuctionID string `json:"auction_id"`
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

type Typing struct {
	AuctionID string `json:"auction_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

// StopTyping mirrors Typing but is a distinct variant so the dispatch
// switch stays exhaustive.
type StopTyping Typing

// ParseInbound decodes a raw frame into one of the closed inbound
// variants, validating required fields. Unknown types and frames missing
// required fields are rejected; the caller drops them without side
// effects.
func ParseInbound(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch env.Type {
	case EventJoinAuction:
		var p JoinAuction
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if p.AuctionID == "" {
			return nil, fmt.Errorf("%s: auction_id: %w", env.Type, ErrMissingField)
		}
		return p, nil

	case EventLeaveAuction:
		var p LeaveAuction
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if p.AuctionID == "" {
			return nil, fmt.Errorf("%s: auction_id: %w", env.Type, ErrMissingField)
		}
		return p, nil

	case EventPlaceBid:
		var p PlaceBid
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if p.AuctionID == "" {
			return nil, fmt.Errorf("%s: auction_id: %w", env.Type, ErrMissingField)
		}
		if p.BidAmount <= 0 {
			return nil, fmt.Errorf("%s: bid_amount: %w", env.Type, ErrMissingField)
		}
		return p, nil

	case EventChatMessage:
		var p ChatSend
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if p.AuctionID == "" {
			return nil, fmt.Errorf("%s: auction_id: %w", env.Type, ErrMissingField)
		}
		if p.Message == "" {
			return nil, fmt.Errorf("%s: message: %w", env.Type, ErrMissingField)
		}
		return p, nil

	case EventTyping, EventStopTyping:
		var p Typing
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if p.AuctionID == "" {
			return nil, fmt.Errorf("%s: auction_id: %w", env.Type, ErrMissingField)
		}
		if env.Type == EventStopTyping {
			return StopTyping(p), nil
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%q: %w", env.Type, ErrUnknownEvent)
	}
}

// Outbound payloads.

type Connected struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

type AuctionStatePayload struct {
	AuctionID string        `json:"auction_id"`
	State     *AuctionState `json:"state"`
}

type NewBid struct {
	AuctionID string    `json:"auction_id"`
	Amount    float64   `json:"amount"`
	UserID    string    `json:"user_id"`
	BidCount  int64     `json:"bid_count"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatHistory struct {
	AuctionID string        `json:"auction_id"`
	Messages  []ChatMessage `json:"messages"`
}

type UserJoined struct {
	AuctionID        string `json:"auction_id"`
	UserID           string `json:"user_id"`
	Username         string `json:"username,omitempty"`
	ParticipantCount int64  `json:"participant_count"`
}

type UserLeft UserJoined

type UserDisconnected UserJoined

type UserTyping struct {
	AuctionID string `json:"auction_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
}

// NewOutbound frames a payload as an envelope ready to write to a socket.
func NewOutbound(t EventType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	frame, err := json.Marshal(Envelope{Type: t, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", t, err)
	}
	return frame, nil
}
