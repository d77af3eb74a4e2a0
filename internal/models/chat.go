package models

import "time"

// ChatMessage belongs to exactly one auction room. Messages are stored in
// a capped log (newest 100 retained); there is no edit or delete.
type ChatMessage struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionRecord tracks one live transport connection. It is written on
// connect and deleted on disconnect, with a defensive TTL in case the
// cleanup path is missed.
type ConnectionRecord struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
}

// AnonymousUser marks connections that did not present a user identity.
const AnonymousUser = "anonymous"
