package internal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 8192
	sendBufferSize  = 256
	rateLimitWindow = 3 * time.Second
	rateLimitBurst  = 10
)

// Conn wraps one live websocket session. It belongs to exactly one
// authenticated user for its whole lifetime; the write pump is the only
// goroutine that touches the socket for writes, so events queued through
// deliver reach the peer in queue order.
type Conn struct {
	id       string
	userID   int64
	username string
	sock     *websocket.Conn

	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	// touched only by the read pump
	messageTimes []time.Time
}

func newConn(sock *websocket.Conn, userID int64, username string) *Conn {
	return &Conn{
		id:           uuid.NewString(),
		userID:       userID,
		username:     username,
		sock:         sock,
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
		messageTimes: make([]time.Time, 0, rateLimitBurst),
	}
}

// UserID returns the identity that owns this connection.
func (c *Conn) UserID() int64 { return c.userID }

// close tears the socket down exactly once and releases the write pump.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
}

// deliver queues an already-built envelope for the write pump. Fire and
// forget: a full buffer means the peer stopped reading, and we drop the
// connection rather than let one slow consumer stall a broadcast.
func (c *Conn) deliver(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	case <-c.done:
	default:
		c.close()
	}
}

// sendEvent marshals payload and delivers it as a typed event.
func (c *Conn) sendEvent(eventType string, payload any) {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		return
	}
	c.deliver(env)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// allowMessage applies the per-connection sliding window rate limit.
func (c *Conn) allowMessage(now time.Time) bool {
	cutoff := now.Add(-rateLimitWindow)
	idx := 0
	for _, ts := range c.messageTimes {
		if ts.After(cutoff) {
			c.messageTimes[idx] = ts
			idx++
		}
	}
	c.messageTimes = c.messageTimes[:idx]
	if len(c.messageTimes) >= rateLimitBurst {
		return false
	}
	c.messageTimes = append(c.messageTimes, now)
	return true
}
