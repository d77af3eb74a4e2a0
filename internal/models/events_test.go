package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInboundVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{
			name: "join",
			raw:  `{"type":"join_auction","data":{"auction_id":"A1"}}`,
			want: JoinAuction{AuctionID: "A1"},
		},
		{
			name: "leave",
			raw:  `{"type":"leave_auction","data":{"auction_id":"A1"}}`,
			want: LeaveAuction{AuctionID: "A1"},
		},
		{
			name: "bid",
			raw:  `{"type":"place_bid","data":{"auction_id":"A1","bid_amount":1200,"user_id":"u1"}}`,
			want: PlaceBid{AuctionID: "A1", BidAmount: 1200, UserID: "u1"},
		},
		{
			name: "chat",
			raw:  `{"type":"chat_message","data":{"auction_id":"A1","message":"hi","user_id":"u1","username":"Alice"}}`,
			want: ChatSend{AuctionID: "A1", Message: "hi", UserID: "u1", Username: "Alice"},
		},
		{
			name: "typing",
			raw:  `{"type":"typing","data":{"auction_id":"A1","user_id":"u1"}}`,
			want: Typing{AuctionID: "A1", UserID: "u1"},
		},
		{
			name: "stop typing",
			raw:  `{"type":"stop_typing","data":{"auction_id":"A1","user_id":"u1"}}`,
			want: StopTyping{AuctionID: "A1", UserID: "u1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tt.raw))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseInboundRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"unknown type", `{"type":"shutdown","data":{}}`},
		{"missing type", `{"data":{"auction_id":"A1"}}`},
		{"join without auction", `{"type":"join_auction","data":{}}`},
		{"join without data", `{"type":"join_auction"}`},
		{"bid without amount", `{"type":"place_bid","data":{"auction_id":"A1","user_id":"u1"}}`},
		{"negative bid", `{"type":"place_bid","data":{"auction_id":"A1","bid_amount":-5,"user_id":"u1"}}`},
		{"chat without message", `{"type":"chat_message","data":{"auction_id":"A1","user_id":"u1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInbound([]byte(tt.raw))
			require.Error(t, err)
		})
	}
}

func TestNewOutboundFrames(t *testing.T) {
	frame, err := NewOutbound(EventUserJoined, UserJoined{AuctionID: "A1", UserID: "u1", ParticipantCount: 2})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	require.Equal(t, EventUserJoined, env.Type)

	var payload UserJoined
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	require.Equal(t, "A1", payload.AuctionID)
	require.EqualValues(t, 2, payload.ParticipantCount)
}
