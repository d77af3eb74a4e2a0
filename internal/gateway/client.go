package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Client is one live WebSocket connection. A client may be joined to
// any number of auction rooms at once; each join and leave is
// independent.
type Client struct {
	ID       string
	UserID   string
	Username string

	conn *websocket.Conn

	// mu guards send against closeSend: a handler on the read pump
	// goroutine may be mid-send while a broadcast on another goroutine
	// drops this client as slow.
	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// trySend queues a payload without blocking. Returns false when the
// send buffer is full or the client has been dropped.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel, stopping the write pump. Safe to
// call more than once and concurrently with trySend.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump pumps queued payloads to the socket and keeps the
// connection alive with pings. One per connection; exits when the send
// channel is closed or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound frames and hands each to the gateway
// dispatcher. Events from one connection are processed in the order
// received. Exits on any read error, which triggers the disconnect
// cleanup path.
func (c *Client) readPump(g *Gateway) {
	defer g.handleDisconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				g.log.Debug().Err(err).Str("connection_id", c.ID).Msg("websocket read error")
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		g.handleMessage(c, message)
	}
}
