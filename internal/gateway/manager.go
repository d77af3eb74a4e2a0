package gateway

import (
	"sync"

	"github.com/rs/zerolog"
)

// Manager tracks locally connected clients and which auction rooms each
// has joined, and fans payloads out to room members. It holds only the
// transient socket bookkeeping; authoritative membership lives in the
// presence manager's store sets.
type Manager struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	rooms    map[string]map[*Client]bool
	byClient map[*Client]map[string]bool

	log zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		clients:  make(map[*Client]bool),
		rooms:    make(map[string]map[*Client]bool),
		byClient: make(map[*Client]map[string]bool),
		log:      log.With().Str("component", "ws-manager").Logger(),
	}
}

// Register adds a new connection.
func (m *Manager) Register(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c] = true
	m.byClient[c] = make(map[string]bool)

	m.log.Debug().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Int("total_connections", len(m.clients)).
		Msg("connection registered")
}

// Unregister removes a connection from every room and closes its send
// channel, which stops the write pump. Idempotent: a second call for
// the same client is a no-op. Returns the rooms the client was in.
func (m *Manager) Unregister(c *Client) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.clients[c] {
		return nil
	}
	delete(m.clients, c)

	var left []string
	for auctionID := range m.byClient[c] {
		left = append(left, auctionID)
		m.removeFromRoom(auctionID, c)
	}
	delete(m.byClient, c)
	c.closeSend()

	m.log.Debug().
		Str("connection_id", c.ID).
		Int("rooms_left", len(left)).
		Msg("connection unregistered")
	return left
}

// JoinRoom subscribes the connection to a room's broadcasts.
func (m *Manager) JoinRoom(auctionID string, c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.clients[c] {
		return
	}
	if m.rooms[auctionID] == nil {
		m.rooms[auctionID] = make(map[*Client]bool)
	}
	m.rooms[auctionID][c] = true
	m.byClient[c][auctionID] = true
}

// LeaveRoom unsubscribes the connection from a room. Leaving a room the
// connection never joined is a no-op.
func (m *Manager) LeaveRoom(auctionID string, c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeFromRoom(auctionID, c)
	delete(m.byClient[c], auctionID)
}

// removeFromRoom requires m.mu held for writing.
func (m *Manager) removeFromRoom(auctionID string, c *Client) {
	if room, ok := m.rooms[auctionID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(m.rooms, auctionID)
		}
	}
}

// BroadcastRoom sends a payload to every connection in the room.
func (m *Manager) BroadcastRoom(auctionID string, payload []byte) {
	m.broadcast(auctionID, nil, payload)
}

// BroadcastOthers sends a payload to every connection in the room except
// the sender.
func (m *Manager) BroadcastOthers(auctionID string, sender *Client, payload []byte) {
	m.broadcast(auctionID, sender, payload)
}

func (m *Manager) broadcast(auctionID string, exclude *Client, payload []byte) {
	m.mu.RLock()
	var slow []*Client
	sent := 0
	for c := range m.rooms[auctionID] {
		if c == exclude {
			continue
		}
		if c.trySend(payload) {
			sent++
		} else {
			slow = append(slow, c)
		}
	}
	m.mu.RUnlock()

	// A full send buffer means the client stopped draining; drop it so
	// one slow consumer cannot stall the room.
	for _, c := range slow {
		m.log.Warn().
			Str("connection_id", c.ID).
			Str("auction_id", auctionID).
			Msg("send buffer full, dropping connection")
		m.Unregister(c)
		c.conn.Close()
	}

	m.log.Debug().
		Str("auction_id", auctionID).
		Int("recipients", sent).
		Msg("room broadcast")
}

// RoomSize returns the number of local connections in a room.
func (m *Manager) RoomSize(auctionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[auctionID])
}

// ConnectionCount returns the number of live local connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
